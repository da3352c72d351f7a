// Package httpserver runs the API listener with graceful shutdown.
//
// Server.Run listens, serves and blocks until the context is cancelled, the
// process receives SIGINT or SIGTERM, Shutdown is called or a background
// worker fails. Workers registered with WithWorker, such as the subscription
// sweeper, share the server's lifecycle through an errgroup:
//
//	srv := httpserver.NewFromConfig(cfg,
//		httpserver.WithLogger(log),
//		httpserver.WithWorker("sweeper", sweeper.Run),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// HealthCheckHandler serves JSON liveness and readiness probes.
package httpserver
