package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sweiot-link/internal/auth"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))

				r.Get("/snapshot", s.handleSnapshot)
				r.Get("/channel", s.handleGetChannel)
				r.Get("/security", s.handleSecurity)
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/devices/{id}/ownership", s.handleDeviceOwnership)
				r.Get("/relay/queue", s.handleRelayQueue)
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceOperate))

				r.Put("/channel", s.handleSwitchChannel)
				r.Post("/messages", s.handleSend)
				r.Post("/init", s.handleInit)

				r.Post("/security/login", s.handleSecurityLogin)
				r.Post("/security/logout", s.handleSecurityLogout)
				r.Post("/security/public-key", s.handleSetPublicKey)
				r.Delete("/security/public-key", s.handleRemovePublicKey)

				r.Post("/local/scan", s.handleStartScan)
				r.Delete("/local/scan", s.handleStopScan)
				r.Post("/local/connect", s.handleConnect)
				r.Post("/local/disconnect", s.handleDisconnect)

				r.Post("/relay/fetch", s.handleFetchRelay)
				r.Post("/relay/select", s.handleSelectRelay)
				r.Post("/relay/poll", s.handlePollRelay)
				r.Delete("/relay/queue", s.handleFlushRelayQueue)
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth probes every registered dependency. Any failure degrades the
// status to "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}
