// Package httpserver runs the billing HTTP API with bounded timeouts and a
// graceful shutdown tied to a context.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns nil once ctx is cancelled and in-flight requests finished
// within the shutdown timeout. LivenessHandler and ReadinessHandler back the
// /healthz and /readyz probes.
package httpserver
