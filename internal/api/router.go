package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicelink/internal/auth"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Read-only routes
			r.Get("/session", s.handleSessionStatus)
			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{id}", s.handleGetDevice)
			r.Get("/devices/{id}/history", s.handleDeviceHistory)
			r.Get("/audit", s.handleListAuditLogs)
			r.Get(s.wsPath(), s.handleWebSocket)

			// Control routes
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermControl))

				r.Post("/session/connect", s.handleConnect)
				r.Post("/session/disconnect", s.handleDisconnect)
				r.Post("/session/publish", s.handlePublish)

				r.Post("/devices", s.handleCreateDevice)
				r.Patch("/devices/{id}", s.handleUpdateDevice)
				r.Delete("/devices/{id}", s.handleDeleteDevice)
				r.Post("/devices/{id}/subscribe", s.handleSubscribeDevice)
				r.Post("/devices/{id}/unsubscribe", s.handleUnsubscribeDevice)
			})
		})
	})

	return r
}

// wsPath returns the configured WebSocket route.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status. Dependency failures
// report "degraded" with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Status()
	checks := make(map[string]string, len(s.checks))
	healthy := true

	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"session": status.State,
		"checks":  checks,
	}
	if !healthy {
		resp["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
