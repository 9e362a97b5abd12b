// Package config provides loading and environment overlay for Topic Tailer
// runtime configuration. It exposes a Default() baseline plus helpers to
// load a JSON file and overlay TAILER_* environment variables.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/tailer.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
