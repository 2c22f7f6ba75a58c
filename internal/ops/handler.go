// Package ops exposes the operational surface: health, Prometheus
// metrics, and live views of the Hub admission controls.
package ops

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carpeta/pkg/platform/httputil"

	"carpeta/internal/circuit"
	"carpeta/internal/hub"
	"carpeta/internal/ratelimit"
)

// Check probes one dependency. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Handler serves the ops endpoints.
type Handler struct {
	limiter  ratelimit.Limiter
	breakers *circuit.Registry
	checks   []Check
	logger   *slog.Logger
}

// New constructs the ops handler.
func New(limiter ratelimit.Limiter, breakers *circuit.Registry, checks []Check, logger *slog.Logger) *Handler {
	return &Handler{
		limiter:  limiter,
		breakers: breakers,
		checks:   checks,
		logger:   logger,
	}
}

// Register mounts the ops endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/ops/hub-rate-limit/status", h.HandleRateLimitStatus)
	r.Get("/ops/circuit-breakers/status", h.HandleBreakerStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// HandleHealth handles GET /healthz. Any failing dependency probe
// turns the response into a 503 with the failing checks named.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			h.logger.Warn("health check failed", "check", check.Name, "error", err)
			results[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "degraded"
			continue
		}
		results[check.Name] = "ok"
	}

	httputil.WriteJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}

type endpointUsage struct {
	ratelimit.Usage
	Remaining int `json:"remaining"`
}

// HandleRateLimitStatus handles GET /ops/hub-rate-limit/status,
// reporting the current window consumption for every Hub endpoint.
func (h *Handler) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	out := make([]endpointUsage, 0, len(hub.Endpoints))
	for _, endpoint := range hub.Endpoints {
		usage, err := h.limiter.Usage(ctx, endpoint)
		if err != nil {
			h.logger.Error("rate limit usage lookup failed", "endpoint", endpoint, "error", err)
			httputil.WriteError(w, err)
			return
		}
		out = append(out, endpointUsage{Usage: usage, Remaining: usage.Remaining()})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"endpoints": out})
}

// HandleBreakerStatus handles GET /ops/circuit-breakers/status.
func (h *Handler) HandleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"breakers": h.breakers.Snapshots(),
	})
}
