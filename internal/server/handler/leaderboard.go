package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/leaderboard"
)

// LeaderboardService is what the leaderboard endpoints need.
type LeaderboardService interface {
	Leaderboard(ctx context.Context, field string, limit int) ([]domain.LeaderboardEntry, error)
}

// LeaderboardHandler serves the cross-session leaderboard.
type LeaderboardHandler struct {
	board  LeaderboardService
	logger *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(board LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{board: board, logger: logger}
}

func (h *LeaderboardHandler) load(r *http.Request) ([]domain.LeaderboardEntry, error) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.board.Leaderboard(r.Context(), q.Get("sort"), limit)
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, err
}

// Leaderboard returns ranked entries.
// GET /api/leaderboard?sort=total_profit&limit=10
func (h *LeaderboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.load(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	fields := make([]string, 0, len(leaderboard.Fields()))
	for _, f := range leaderboard.Fields() {
		fields = append(fields, string(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"sort_fields": fields,
	})
}

// CSV streams the leaderboard as a CSV download.
// GET /api/leaderboard.csv?sort=points
func (h *LeaderboardHandler) CSV(w http.ResponseWriter, r *http.Request) {
	entries, err := h.load(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="leaderboard.csv"`)
	if err := leaderboard.WriteCSV(w, entries); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: write leaderboard csv failed", slog.String("error", err.Error()))
	}
}
