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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Join endpoints
		r.Route("/joins", func(r chi.Router) {
			r.Get("/", s.handleListJoins)

			r.Route("/{kind}/{number}", func(r chi.Router) {
				r.Get("/", s.handleGetJoin)
				r.Put("/", s.handleSetJoin)
			})
		})

		// WebSocket join event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"version":             s.version,
		"processor_connected": s.pusher.IsAvailable(),
	})
}

// handleMetrics returns bridge counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.pusher.Stats()
	digital, analog, serial := s.store.Counts()

	payload := map[string]any{
		"processor": stats,
		"joins": map[string]int{
			"digital": digital,
			"analog":  analog,
			"serial":  serial,
		},
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.engine != nil {
		payload["engine"] = s.engine.Metrics()
	}
	if s.bindings != nil {
		payload["led_bindings"] = s.bindings.Len()
	}

	writeJSON(w, http.StatusOK, payload)
}
