package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaintenancePrefix is where the service's own endpoints live. Every other
// path is handled by the page middleware.
const MaintenancePrefix = "/_pagejson"

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recordMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route(MaintenancePrefix, func(r chi.Router) {
		r.Get("/health", s.handleHealthCheck)
		r.Get("/stats", s.handleStats)
		r.Post("/sweep", s.handleSweep)
		r.Get("/failures", s.handleFailures)
		r.Get("/history", s.handleHistory)
	})

	r.With(s.PageMiddleware).Handle("/*", s.newOriginProxy())

	return r
}
