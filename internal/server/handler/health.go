package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and the state of each configured backend.
type HealthHandler struct {
	checks  map[string]Check
	mode    string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be empty.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, mode: mode, started: time.Now(), logger: logger}
}

// HealthCheck runs every check with a short deadline. Any failing check turns
// the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, n := range names {
		if err := h.checks[n](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("dependency", n), slog.String("error", err.Error()))
			deps[n] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[n] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"dependencies":   deps,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
