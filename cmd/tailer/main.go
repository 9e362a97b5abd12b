package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/rzbill/tailer/internal/cmd/server"
	cfgpkg "github.com/rzbill/tailer/internal/config"
	pebblestore "github.com/rzbill/tailer/internal/storage/pebble"
	logpkg "github.com/rzbill/tailer/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tailer",
		Short: "Topic Tailer CLI",
		Long:  "tailer runs and inspects a Topic Tailer process: the fan-out layer between an append-only log store and its subscribers.",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Topic Tailer server (admin gRPC and HTTP)",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (defaults to an OS-specific application data directory)")
	serveCmd.Flags().String("grpc", "", "Admin gRPC listen address")
	serveCmd.Flags().String("http", "", "Admin HTTP listen address")
	serveCmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", "json", "Log format (json is the only format this logger supports)")
	serveCmd.Flags().Int("reader-count", 0, "Physical reader pool size (0 = use config default)")
	serveCmd.Flags().Int("cache-capacity", 0, "Per-log recently-delivered record cache capacity (0 = use config default)")
	serveCmd.Flags().Uint64("max-subscription-lag", 0, "Sequence numbers a subscriber may lag before being bumped forward (0 = use config default)")
	serveCmd.Flags().Float64("fault-rate", 0, "Inject synthetic SendLogRecord backpressure at this rate, in [0,1]")
	serveCmd.Flags().String("fsync", "always", "Pebble WAL fsync mode: always|interval|never")
	serveCmd.Flags().Int("log-sample-thereafter", 0, "Sample the logger's slog bridge: after the first 5 occurrences, pass only every Nth repeat of the same level+message (0 disables sampling; Logger method calls are not sampled)")
	rootCmd.AddCommand(serveCmd)

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print a log's admin summary via the running server's HTTP API",
		RunE:  runInfo,
	}
	infoCmd.Flags().Uint64("log", 0, "Log id to query (omit to list every open log)")
	infoCmd.Flags().String("http", "http://127.0.0.1:7621", "Admin HTTP base URL")
	rootCmd.AddCommand(infoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	grpcAddr, _ := cmd.Flags().GetString("grpc")
	httpAddr, _ := cmd.Flags().GetString("http")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")
	if logFormat != "" && logFormat != "json" {
		return fmt.Errorf("invalid --log-format %q; only json is supported", logFormat)
	}
	readerCount, _ := cmd.Flags().GetInt("reader-count")
	cacheCapacity, _ := cmd.Flags().GetInt("cache-capacity")
	maxLag, _ := cmd.Flags().GetUint64("max-subscription-lag")
	faultRate, _ := cmd.Flags().GetFloat64("fault-rate")
	fsyncMode, _ := cmd.Flags().GetString("fsync")
	logSampleThereafter, _ := cmd.Flags().GetInt("log-sample-thereafter")

	mode, err := parseFsyncMode(fsyncMode)
	if err != nil {
		return err
	}

	cfg := cfgpkg.Default()
	cfgpkg.FromEnv(&cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if readerCount > 0 {
		cfg.ReaderCount = readerCount
	}
	if cacheCapacity > 0 {
		cfg.CacheCapacity = cacheCapacity
	}
	if maxLag > 0 {
		cfg.MaxSubscriptionLag = maxLag
	}
	if faultRate > 0 {
		cfg.FaultSendLogRecordFailureRate = faultRate
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	loggerOpts := []logpkg.LoggerOption{
		logpkg.WithLevel(level),
		logpkg.WithFormatter(&logpkg.JSONFormatter{}),
		logpkg.WithOutput(&logpkg.ConsoleOutput{}),
	}
	if logSampleThereafter > 0 {
		loggerOpts = append(loggerOpts, logpkg.WithSampling(5, logSampleThereafter))
	}
	logger := logpkg.NewLogger(loggerOpts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serverrun.Run(ctx, serverrun.Options{
		DataDir:  cfg.DataDir,
		GRPCAddr: cfg.GRPCAddr,
		HTTPAddr: cfg.HTTPAddr,
		Fsync:    mode,
		Config:   cfg,
		Logger:   logger,
	}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

func runInfo(cmd *cobra.Command, _ []string) error {
	base, _ := cmd.Flags().GetString("http")
	logID, _ := cmd.Flags().GetUint64("log")

	url := base + "/v1/logs"
	if cmd.Flags().Changed("log") {
		url = fmt.Sprintf("%s/v1/logs/%d", base, logID)
	}

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin http: status %s: %s", resp.Status, body)
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseFsyncMode(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "never":
		return pebblestore.FsyncModeNever, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "always", "":
		return pebblestore.FsyncModeAlways, nil
	default:
		return 0, fmt.Errorf("invalid --fsync %q; use always|interval|never", s)
	}
}

func parseLevel(s string) (logpkg.Level, error) {
	switch s {
	case "debug":
		return logpkg.DebugLevel, nil
	case "info", "":
		return logpkg.InfoLevel, nil
	case "warn":
		return logpkg.WarnLevel, nil
	case "error":
		return logpkg.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid --log-level %q; use debug|info|warn|error", s)
	}
}

