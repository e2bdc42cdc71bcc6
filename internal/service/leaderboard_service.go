package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/leaderboard"
)

// LeaderboardService aggregates completed sessions into a ranked leaderboard,
// optionally through a cache.
type LeaderboardService struct {
	sessions domain.SessionStore
	cache    domain.LeaderboardCache
	weights  leaderboard.Weights
	logger   *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService. cache may be nil.
func NewLeaderboardService(
	sessions domain.SessionStore,
	cache domain.LeaderboardCache,
	weights leaderboard.Weights,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		sessions: sessions,
		cache:    cache,
		weights:  weights,
		logger:   logger.With(slog.String("component", "leaderboard_service")),
	}
}

// Leaderboard returns entries sorted by field with ranks for that field. A
// positive limit truncates the list.
func (s *LeaderboardService) Leaderboard(ctx context.Context, field string, limit int) ([]domain.LeaderboardEntry, error) {
	f, err := leaderboard.ParseField(field)
	if err != nil {
		return nil, err
	}

	key := string(f)
	entries, ok := s.fromCache(ctx, key)
	if !ok {
		completed, err := s.sessions.ListCompletedSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("leaderboard_service: list completed sessions: %w", err)
		}
		entries = leaderboard.Aggregate(completed, s.weights)
		leaderboard.Sort(entries, f)
		s.logger.DebugContext(ctx, "leaderboard computed",
			slog.Int("sessions", len(completed)),
			slog.Int("players", len(entries)),
			slog.String("sort", key),
		)
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, entries); err != nil {
				s.logger.WarnContext(ctx, "leaderboard cache set failed", slog.String("error", err.Error()))
			}
		}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *LeaderboardService) fromCache(ctx context.Context, key string) ([]domain.LeaderboardEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	entries, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "leaderboard cache get failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return entries, true
}
