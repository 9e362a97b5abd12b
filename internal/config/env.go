package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TAILER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TAILER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TAILER_NUM_LOGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumLogs = n
		}
	}
	if v := os.Getenv("TAILER_READER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReaderCount = n
		}
	}
	if v := os.Getenv("TAILER_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheCapacity = n
		}
	}
	if v := os.Getenv("TAILER_FORWARD_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ForwardQueueDepth = n
		}
	}
	if v := os.Getenv("TAILER_MAX_SUBSCRIPTION_LAG"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxSubscriptionLag = n
		}
	}
	if v := os.Getenv("TAILER_FAULT_SEND_LOG_RECORD_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.FaultSendLogRecordFailureRate = f
		}
	}
	if v := os.Getenv("TAILER_GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := os.Getenv("TAILER_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}
