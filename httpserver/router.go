/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-jobthrottle/log"
)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	HealthCheck    HealthCheck
	MetricsHandler http.Handler

	// Profiling mounts pprof handlers under /debug.
	Profiling bool

	// Routes configures application endpoints.
	Routes func(router chi.Router)
}

// NewRouter creates a new chi.Router with /metrics and /healthz endpoints.
func NewRouter(logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck, logger))
	if opts.Profiling {
		router.Mount("/debug", chimiddleware.Profiler())
	}

	if opts.Routes != nil {
		opts.Routes(router)
	}
	return router
}
