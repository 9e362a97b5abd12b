package config

import (
	"encoding/json"
	"os"
)

// Config is the top-level configuration for a Topic Tailer process.
type Config struct {
	// DataDir is where the Pebble log store lives.
	DataDir string `json:"dataDir"`
	// NumLogs is how many physical logs topics are hash-routed across.
	NumLogs int `json:"numLogs"`
	// ReaderCount is how many physical log readers the Tailer pools per
	// process, on top of the implicit virtual reader.
	ReaderCount int `json:"readerCount"`
	// CacheCapacity bounds the per-log recently-delivered record cache.
	CacheCapacity int `json:"cacheCapacity"`
	// ForwardQueueDepth bounds the room loop's inbound command queue.
	ForwardQueueDepth int `json:"forwardQueueDepth"`
	// MaxSubscriptionLag bounds, in sequence numbers, how far a subscriber
	// may fall behind the tail before being bumped forward with a
	// synthetic benign gap.
	MaxSubscriptionLag uint64 `json:"maxSubscriptionLag"`
	// FaultSendLogRecordFailureRate injects synthetic SendLogRecord
	// backpressure for chaos testing (SendGapRecord is not affected); 0
	// disables it.
	FaultSendLogRecordFailureRate float64 `json:"faultSendLogRecordFailureRate"`
	// GRPCAddr is the listen address for the admin gRPC server.
	GRPCAddr string `json:"grpcAddr"`
	// HTTPAddr is the listen address for the admin HTTP/SSE server.
	HTTPAddr string `json:"httpAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:            DefaultDataDir(),
		NumLogs:            16,
		ReaderCount:        4,
		CacheCapacity:      256,
		ForwardQueueDepth:  4096,
		MaxSubscriptionLag: 10000,
		GRPCAddr:           ":7620",
		HTTPAddr:           ":7621",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
