package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plc-monitor/internal/dashboard"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/", dashboard.Handler(s.query, dashboard.Options{Title: s.title}))
	r.Get("/data", s.handleData)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/devices", s.handleDevices)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
