package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/rzbill/tailer/internal/config"
	"github.com/rzbill/tailer/internal/router"
	grpcserver "github.com/rzbill/tailer/internal/server/grpc"
	httpserver "github.com/rzbill/tailer/internal/server/http"
	"github.com/rzbill/tailer/internal/storage/logstore"
	pebblestore "github.com/rzbill/tailer/internal/storage/pebble"
	"github.com/rzbill/tailer/internal/tailer"
	logpkg "github.com/rzbill/tailer/pkg/log"
)

// Options configures one Topic Tailer process.
type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Run opens storage, wires the Tailer and its admin servers, and blocks
// until ctx is cancelled (or a SIGINT/SIGTERM arrives, layered over ctx the
// way the teacher's server entrypoint does).
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(&logpkg.ConsoleOutput{}))
	}
	logger = logger.WithComponent("serverrun")

	storeDir := filepath.Join(opts.DataDir, "store")
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rt, err := router.NewHashRouter(opts.Config.NumLogs)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	store := logstore.New(db)
	registry := prometheus.NewRegistry()
	dispatcher := httpserver.NewDispatcher()

	readerIDs := make([]uint64, 0, opts.Config.ReaderCount)
	for i := 1; i <= opts.Config.ReaderCount; i++ {
		readerIDs = append(readerIDs, uint64(i))
	}

	tl, err := tailer.NewTailer(tailer.Config{
		Logger:                        logger.WithComponent("tailer"),
		Router:                        rt,
		Storage:                       store,
		OnMessage:                     dispatcher.OnMessage,
		Statistics:                    tailer.NewStatistics(registry),
		ReaderIDs:                     readerIDs,
		CacheCapacity:                 opts.Config.CacheCapacity,
		ForwardQueueDepth:             opts.Config.ForwardQueueDepth,
		MaxSubscriptionLag:            opts.Config.MaxSubscriptionLag,
		FaultSendLogRecordFailureRate: opts.Config.FaultSendLogRecordFailureRate,
	})
	if err != nil {
		return fmt.Errorf("build tailer: %w", err)
	}
	store.Attach(tl)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tl.Run(sctx)
	}()

	gsrv := grpcserver.New()
	hsrv := httpserver.New(tl, dispatcher, registry)
	gsrv.MarkServing()

	logger.Info("starting topic tailer",
		logpkg.Field{Key: "grpc", Value: opts.GRPCAddr},
		logpkg.Field{Key: "http", Value: opts.HTTPAddr},
		logpkg.Field{Key: "data_dir", Value: opts.DataDir},
		logpkg.Field{Key: "num_logs", Value: opts.Config.NumLogs},
		logpkg.Field{Key: "reader_count", Value: opts.Config.ReaderCount},
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, opts.GRPCAddr); err != nil && sctx.Err() == nil {
			logger.Error("grpc server error", logpkg.Field{Key: "error", Value: err.Error()})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server error", logpkg.Field{Key: "error", Value: err.Error()})
		}
	}()

	<-sctx.Done()
	gsrv.MarkNotServing()
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	return nil
}
