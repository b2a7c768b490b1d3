package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds all checks run by one /health request.
const healthCheckTimeout = 5 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/device", s.handleDevice)

		r.Route("/lease", func(r chi.Router) {
			r.Get("/", s.handleGetLease)
			r.Post("/release", s.handleReleaseLease)
			r.Get("/history", s.handleLeaseHistory)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthResponse reports the result of every registered check.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// handleHealth runs the registered health checks. Any failure gives 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Checks:  make(map[string]string, len(s.checks)),
	}
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// DeviceResponse describes the device as controllers see it on the bus.
type DeviceResponse struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Prefix  string   `json:"prefix"`
	Actions []string `json:"actions"`
	Sensors []string `json:"sensors,omitempty"`
	Version string   `json:"version"`
}

func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	caps := s.identity.Capabilities()
	writeJSON(w, http.StatusOK, DeviceResponse{
		ID:      caps.ID,
		Type:    caps.Type,
		Prefix:  s.identity.Prefix(),
		Actions: caps.Actions,
		Sensors: caps.Sensors,
		Version: s.version,
	})
}
