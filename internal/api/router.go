package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Host liveness (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with ?token= since browsers cannot set headers on upgrade.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)

			r.Route("/backend", func(r chi.Router) {
				r.Get("/status", s.handleBackendStatus)
				r.Get("/health", s.handleBackendHealth)
				r.Get("/stats", s.handleBackendStats)
				r.Get("/launches", s.handleListLaunches)

				r.Route("/log", func(r chi.Router) {
					r.Get("/", s.handleReadLog)
					r.Get("/cursor", s.handleLogCursor)
				})
			})
		})
	})

	return r
}

// handleHealth returns the host health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
