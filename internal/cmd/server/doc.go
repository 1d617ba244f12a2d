// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the order event server, handling topology selection, lifecycle, and
// shutdown.
//
// Example:
//
//	cfg := config.Default()
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg, Logger: logger})
package serverrun
