// Package serverrun exposes a shared Run entrypoint used by the CLI to
// start a Topic Tailer process with its admin gRPC and HTTP servers,
// handling lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", GRPCAddr: ":7620", HTTPAddr: ":7621", Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
