// Package httpserver wraps net/http with context-driven graceful shutdown and
// liveness/readiness handlers.
//
//	srv := httpserver.New(cfg, router, httpserver.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
//
// Run returns once ctx is cancelled and in-flight requests have drained, or
// Config.ShutdownTimeout has passed.
package httpserver
