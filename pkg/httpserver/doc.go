// Package httpserver runs an http.Handler with configured timeouts and shuts it
// down gracefully when the context passed to Start is cancelled. It also
// provides liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, router))
//	return g.Wait()
//
// Start wraps listen errors with ErrStart and shutdown errors with ErrShutdown.
package httpserver
