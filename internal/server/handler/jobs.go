package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bertrand/internal/service"
)

// AutopilotTicker runs one autopilot pass on demand.
type AutopilotTicker interface {
	Tick(ctx context.Context) (service.TickReport, error)
}

// RetentionRunner runs one event retention sweep on demand.
type RetentionRunner interface {
	Run(ctx context.Context) (int64, error)
}

// JobsHandler lets operators trigger background jobs without waiting for
// their schedule.
type JobsHandler struct {
	autopilot AutopilotTicker
	retention RetentionRunner
	logger    *slog.Logger
}

// NewJobsHandler creates a JobsHandler. Either job may be nil.
func NewJobsHandler(autopilot AutopilotTicker, retention RetentionRunner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{autopilot: autopilot, retention: retention, logger: logger}
}

// TickAutopilot runs one autopilot pass and returns its report.
// POST /api/jobs/autopilot
func (h *JobsHandler) TickAutopilot(w http.ResponseWriter, r *http.Request) {
	if h.autopilot == nil {
		writeError(w, http.StatusNotFound, "autopilot not enabled")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: autopilot tick requested")
	rep, err := h.autopilot.Tick(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "autopilot tick", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RunRetention archives expired game events now.
// POST /api/jobs/retention
func (h *JobsHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		writeError(w, http.StatusNotFound, "retention not enabled")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: retention sweep requested")
	n, err := h.retention.Run(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "retention sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived":     n,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
