package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the route tree with the full middleware chain.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Unauthenticated probe endpoint.
	r.Get("/healthz", s.handleHealth)

	// WebSocket feed; authenticated via token query parameter because
	// browser WebSocket clients cannot set an Authorization header.
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/devices/{id}/history", s.handleDeviceHistory)
		r.Post("/devices/{id}/actions", s.handleDeviceAction)
	})

	return r
}

// handleHealth reports process liveness and the portal stream state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"stream":  s.bridge.StreamState().String(),
		"devices": s.bridge.Registry().Len(),
	})
}
