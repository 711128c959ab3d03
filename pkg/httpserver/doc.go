// Package httpserver runs an http.Handler until its context is canceled and
// then drains in-flight requests within a bounded shutdown timeout.
//
// The binary owns signal handling (signal.NotifyContext) and runs the server
// next to background jobs in an errgroup:
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// HealthHandler exposes dependency probes such as pg.Healthcheck and
// redis.Healthcheck as a JSON readiness endpoint.
package httpserver
