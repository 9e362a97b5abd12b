// Package log provides the Topic Tailer's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. BaseLogger's methods format
// each entry with the configured Formatter and write it to every configured
// Output directly. NewLogger also builds an internal slog.Logger over a
// bridge handler feeding the same formatter/output pipeline; that
// slog.Logger is neither exported nor installed as slog's default, so slog
// calls made elsewhere do not reach it.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.JSONFormatter{}),
//	    log.WithOutput(&log.ConsoleOutput{}),
//	)
//	l = l.WithComponent("server").With(log.Field{Key: "ns", Value: "default"})
//	l.Info("server started", log.Field{Key: "port", Value: 8080})
package log
