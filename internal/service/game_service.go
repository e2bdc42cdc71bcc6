package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bertrand/internal/demand"
	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/game"
)

// defaultMaxRetries bounds the optimistic read-modify-write loop.
const defaultMaxRetries = 8

// Alerter sends operator notifications for a named event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// GameService runs game transitions against the session store. Every change
// is a versioned full-state write; a lost race re-reads and re-applies the
// transition to the fresh state.
type GameService struct {
	sessions   domain.SessionStore
	events     domain.EventLog
	models     *demand.Registry
	defaults   domain.GameConfig
	feed       domain.StateFeed
	cache      domain.LeaderboardCache
	alerts     Alerter
	archiver   domain.Archiver
	shuffle    game.ShuffleFunc
	now        func() time.Time
	maxRetries int
	logger     *slog.Logger
}

// NewGameService creates a GameService. defaults fills any zero field of a
// new session's configuration.
func NewGameService(
	sessions domain.SessionStore,
	events domain.EventLog,
	models *demand.Registry,
	defaults domain.GameConfig,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		sessions:   sessions,
		events:     events,
		models:     models,
		defaults:   defaults,
		shuffle:    game.RandomShuffle,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		logger:     logger.With(slog.String("component", "game_service")),
	}
}

// WithFeed publishes every stored state to feed.
func (s *GameService) WithFeed(feed domain.StateFeed) *GameService {
	s.feed = feed
	return s
}

// WithLeaderboardCache invalidates cache whenever a game ends.
func (s *GameService) WithLeaderboardCache(cache domain.LeaderboardCache) *GameService {
	s.cache = cache
	return s
}

// WithAlerter sends game_ended notifications through a.
func (s *GameService) WithAlerter(a Alerter) *GameService {
	s.alerts = a
	return s
}

// WithArchiver exports sessions to cold storage when they are archived.
func (s *GameService) WithArchiver(a domain.Archiver) *GameService {
	s.archiver = a
	return s
}

// WithClock replaces the wall clock and the pairing shuffle. Used by tests.
func (s *GameService) WithClock(now func() time.Time, shuffle game.ShuffleFunc) *GameService {
	if now != nil {
		s.now = now
	}
	if shuffle != nil {
		s.shuffle = shuffle
	}
	return s
}

// Models returns the demand model registry.
func (s *GameService) Models() *demand.Registry { return s.models }

// CreateSession stores a new session with a not-yet-started game.
func (s *GameService) CreateSession(ctx context.Context, name string, cfg domain.GameConfig, ap domain.AutopilotConfig) (domain.Session, error) {
	n, err := game.NormalizeName(name)
	if err != nil {
		return domain.Session{}, err
	}
	cfg = s.withDefaults(cfg)
	if err := game.ValidateConfig(cfg); err != nil {
		return domain.Session{}, err
	}
	if !s.models.Has(cfg.DemandModel) {
		return domain.Session{}, fmt.Errorf("%w: unknown demand model %q (have %s)",
			domain.ErrValidation, cfg.DemandModel, strings.Join(s.models.List(), ", "))
	}

	now := s.now().UTC()
	sess := domain.Session{
		ID:        uuid.NewString(),
		Name:      n,
		Config:    cfg,
		Status:    domain.SessionStatusActive,
		Autopilot: ap,
		State:     game.NewStateFromConfig(cfg),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("game_service: create session: %w", err)
	}
	s.logger.InfoContext(ctx, "session created",
		slog.String("session_id", sess.ID),
		slog.String("name", sess.Name),
		slog.String("demand_model", cfg.DemandModel),
	)
	s.logEvent(ctx, sess.ID, "create_session", domain.EventStatusSuccess, map[string]any{"name": sess.Name})
	return sess, nil
}

func (s *GameService) withDefaults(cfg domain.GameConfig) domain.GameConfig {
	d := s.defaults
	if cfg.TotalRounds == 0 {
		cfg.TotalRounds = d.TotalRounds
	}
	if cfg.RoundTimeLimit == 0 {
		cfg.RoundTimeLimit = d.RoundTimeLimit
	}
	if cfg.MinBid == 0 && cfg.MaxBid == 0 {
		cfg.MinBid = d.MinBid
	}
	if cfg.MaxBid == 0 {
		cfg.MaxBid = d.MaxBid
	}
	if cfg.CostPerUnit == 0 {
		cfg.CostPerUnit = d.CostPerUnit
	}
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = d.MaxPlayers
	}
	if cfg.MarketSize == 0 {
		cfg.MarketSize = d.MarketSize
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = d.Alpha
	}
	if cfg.DemandModel == "" {
		cfg.DemandModel = d.DemandModel
	}
	if cfg.DemandModel == "" {
		cfg.DemandModel = "logit"
	}
	if cfg.RivalryMode == "" {
		cfg.RivalryMode = d.RivalryMode
	}
	if cfg.RivalryMode == "" {
		cfg.RivalryMode = domain.RivalryRoundRobin
	}
	return cfg
}

// GetSession returns a session with its current state.
func (s *GameService) GetSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("game_service: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first, optionally filtered by status.
func (s *GameService) ListSessions(ctx context.Context, status domain.SessionStatus, opts domain.ListOpts) ([]domain.Session, error) {
	var (
		out []domain.Session
		err error
	)
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
		}
		out, err = s.sessions.ListByStatus(ctx, status)
	} else {
		out, err = s.sessions.List(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("game_service: list sessions: %w", err)
	}
	return out, nil
}

// GetState returns a session's current game state.
func (s *GameService) GetState(ctx context.Context, id string) (domain.GameState, error) {
	st, err := s.sessions.GetState(ctx, id)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("game_service: get state: %w", err)
	}
	return st, nil
}

// StartGame starts (or restarts after it ended) the session's game.
func (s *GameService) StartGame(ctx context.Context, id string) (domain.GameState, error) {
	var cfg domain.GameConfig
	st, err := s.mutate(ctx, id, "start_game", func(sess domain.Session) (domain.GameState, error) {
		cfg = sess.Config
		return game.StartGame(sess.State, cfg)
	})
	if err != nil {
		return st, err
	}
	s.logEvent(ctx, id, "start_game", domain.EventStatusSuccess, map[string]any{"total_rounds": cfg.TotalRounds})
	return st, nil
}

// RegisterPlayer adds a player to the session.
func (s *GameService) RegisterPlayer(ctx context.Context, id, name string) (domain.GameState, error) {
	return s.mutate(ctx, id, "register_player", func(sess domain.Session) (domain.GameState, error) {
		return game.RegisterPlayer(sess.State, name)
	})
}

// UnregisterPlayer removes a player from the session.
func (s *GameService) UnregisterPlayer(ctx context.Context, id, name string) (domain.GameState, error) {
	return s.mutate(ctx, id, "unregister_player", func(sess domain.Session) (domain.GameState, error) {
		return game.UnregisterPlayer(sess.State, name), nil
	})
}

// StartRound opens bidding for the current round.
func (s *GameService) StartRound(ctx context.Context, id string) (domain.GameState, error) {
	st, err := s.mutate(ctx, id, "start_round", func(sess domain.Session) (domain.GameState, error) {
		return game.StartRound(sess.State, s.now(), s.shuffle)
	})
	if err != nil {
		return st, err
	}
	s.logEvent(ctx, id, "start_round", domain.EventStatusSuccess, map[string]any{
		"round":   st.CurrentRound,
		"players": len(st.Players),
	})
	return st, nil
}

// SubmitBid records a player's bid. Concurrent bids from different players
// never overwrite each other.
func (s *GameService) SubmitBid(ctx context.Context, id, player string, bid float64) (domain.GameState, error) {
	return s.mutate(ctx, id, "submit_bid", func(sess domain.Session) (domain.GameState, error) {
		return game.SubmitBid(sess.State, player, bid, s.now())
	})
}

// EndRound settles the active round on an operator's request. It fails with
// ErrStateConflict while non-timed-out players have yet to bid or when no
// round is active.
func (s *GameService) EndRound(ctx context.Context, id string) (game.Summary, error) {
	sum, err := s.settle(ctx, id, false)
	if err != nil {
		return sum, err
	}
	s.logEvent(ctx, id, "end_round", domain.EventStatusSuccess, summaryDetails(sum))
	return sum, nil
}

// EndRoundAutopilot settles the active round, charging the maximum bid to
// every player that has not bid. The caller records the outcome.
func (s *GameService) EndRoundAutopilot(ctx context.Context, id string) (game.Summary, error) {
	return s.settle(ctx, id, true)
}

func (s *GameService) settle(ctx context.Context, id string, autopilot bool) (game.Summary, error) {
	var sum game.Summary
	_, err := s.mutate(ctx, id, "end_round", func(sess domain.Session) (domain.GameState, error) {
		model, err := game.ModelFor(s.models, sess.State)
		if err != nil {
			return sess.State, err
		}
		var next domain.GameState
		if autopilot {
			next, sum, err = game.EndRoundAutopilot(sess.State, model, s.now())
		} else {
			next, sum, err = game.EndRound(sess.State, model, s.now())
		}
		return next, err
	})
	if err != nil {
		return game.Summary{}, err
	}
	s.logger.InfoContext(ctx, "round settled",
		slog.String("session_id", id),
		slog.Int("round", sum.Round),
		slog.Int("players_processed", sum.PlayersProcessed),
		slog.Int("timeouts", len(sum.Timeouts)),
		slog.Bool("autopilot", autopilot),
	)
	return sum, nil
}

// EndGame forces the game to its terminal state.
func (s *GameService) EndGame(ctx context.Context, id string) (domain.GameState, error) {
	return s.mutate(ctx, id, "end_game", func(sess domain.Session) (domain.GameState, error) {
		return game.EndGame(sess.State)
	})
}

// ResetGame wipes the game back to its initial state and reactivates the
// session.
func (s *GameService) ResetGame(ctx context.Context, id string) (domain.GameState, error) {
	st, err := s.mutate(ctx, id, "reset_game", func(sess domain.Session) (domain.GameState, error) {
		return game.ResetGame(sess.State), nil
	})
	if err != nil {
		return st, err
	}
	s.logEvent(ctx, id, "reset_game", domain.EventStatusSuccess, nil)
	return st, nil
}

// TimeoutPlayer excludes a player from the current round.
func (s *GameService) TimeoutPlayer(ctx context.Context, id, name string) (domain.GameState, error) {
	return s.mutate(ctx, id, "timeout_player", func(sess domain.Session) (domain.GameState, error) {
		return game.TimeoutPlayer(sess.State, name)
	})
}

// UnTimeoutPlayer lets a timed-out player bid again.
func (s *GameService) UnTimeoutPlayer(ctx context.Context, id, name string) (domain.GameState, error) {
	return s.mutate(ctx, id, "untimeout_player", func(sess domain.Session) (domain.GameState, error) {
		return game.UnTimeoutPlayer(sess.State, name)
	})
}

// UpdateRivalries replaces the session's rivalry graph.
func (s *GameService) UpdateRivalries(ctx context.Context, id string, graph map[string][]string) (domain.GameState, error) {
	return s.mutate(ctx, id, "update_rivalries", func(sess domain.Session) (domain.GameState, error) {
		return game.UpdateRivalries(sess.State, graph)
	})
}

// AutoAssignRivals makes every player a rival of every other.
func (s *GameService) AutoAssignRivals(ctx context.Context, id string) (domain.GameState, error) {
	return s.mutate(ctx, id, "auto_assign_rivals", func(sess domain.Session) (domain.GameState, error) {
		return game.AutoAssignRivals(sess.State), nil
	})
}

// SetAutopilot replaces a session's autopilot settings.
func (s *GameService) SetAutopilot(ctx context.Context, id string, ap domain.AutopilotConfig) error {
	if err := s.sessions.SetAutopilot(ctx, id, ap); err != nil {
		return fmt.Errorf("game_service: set autopilot: %w", err)
	}
	s.logEvent(ctx, id, "set_autopilot", domain.EventStatusSuccess, map[string]any{
		"enabled":           ap.Enabled,
		"auto_start_rounds": ap.AutoStartRounds,
	})
	return nil
}

// ArchiveSession moves a finished session out of the leaderboard and, when
// an archiver is configured, exports it to cold storage. It returns the
// export path, which is empty without an archiver.
func (s *GameService) ArchiveSession(ctx context.Context, id string) (string, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("game_service: archive session: %w", err)
	}
	switch sess.Status {
	case domain.SessionStatusArchived:
		return "", nil
	case domain.SessionStatusActive:
		if sess.State.HasGameStarted && !sess.State.IsEnded {
			return "", fmt.Errorf("%w: game in progress", domain.ErrStateConflict)
		}
	}

	var path string
	if s.archiver != nil {
		if path, err = s.archiver.ExportSession(ctx, sess); err != nil {
			s.logEvent(ctx, id, "archive_session", domain.EventStatusFailure, map[string]any{"error": err.Error()})
			return "", fmt.Errorf("game_service: export session: %w", err)
		}
	}
	if err := s.sessions.SetStatus(ctx, id, domain.SessionStatusArchived); err != nil {
		return "", fmt.Errorf("game_service: archive session: %w", err)
	}
	if err := s.sessions.SetAutopilot(ctx, id, domain.AutopilotConfig{}); err != nil {
		s.logger.WarnContext(ctx, "disable autopilot on archive failed",
			slog.String("session_id", id), slog.String("error", err.Error()))
	}
	s.invalidateLeaderboard(ctx)
	s.logEvent(ctx, id, "archive_session", domain.EventStatusSuccess, map[string]any{"path": path})
	return path, nil
}

// ListEvents returns a session's event log, newest first.
func (s *GameService) ListEvents(ctx context.Context, id string, opts domain.ListOpts) ([]domain.GameEvent, error) {
	out, err := s.events.ListEvents(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("game_service: list events: %w", err)
	}
	return out, nil
}

// mutate applies fn to the latest state and stores the result with a
// version check, retrying on conflicts.
func (s *GameService) mutate(
	ctx context.Context,
	id, action string,
	fn func(domain.Session) (domain.GameState, error),
) (domain.GameState, error) {
	for attempt := 0; ; attempt++ {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			return domain.GameState{}, fmt.Errorf("game_service: %s: %w", action, err)
		}
		if sess.Status == domain.SessionStatusArchived {
			return sess.State, fmt.Errorf("%w: session is archived", domain.ErrStateConflict)
		}

		next, err := fn(sess)
		if err != nil {
			s.logger.DebugContext(ctx, "transition rejected",
				slog.String("session_id", id),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			return sess.State, err
		}

		stored, err := s.sessions.UpdateState(ctx, id, next, sess.State.Version)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < s.maxRetries {
			s.logger.DebugContext(ctx, "state version conflict, retrying",
				slog.String("session_id", id),
				slog.String("action", action),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return sess.State, fmt.Errorf("game_service: %s: %w", action, err)
		}

		s.afterUpdate(ctx, sess, stored)
		return stored, nil
	}
}

// afterUpdate publishes the new state and keeps the session status in step
// with the game.
func (s *GameService) afterUpdate(ctx context.Context, prev domain.Session, stored domain.GameState) {
	if s.feed != nil {
		if err := s.feed.Publish(ctx, prev.ID, stored); err != nil {
			s.logger.WarnContext(ctx, "publish state failed",
				slog.String("session_id", prev.ID), slog.String("error", err.Error()))
		}
	}

	switch {
	case stored.IsEnded && !prev.State.IsEnded:
		s.onGameEnded(ctx, prev, stored)
	case !stored.IsEnded && prev.Status == domain.SessionStatusCompleted:
		if err := s.sessions.SetStatus(ctx, prev.ID, domain.SessionStatusActive); err != nil {
			s.logger.ErrorContext(ctx, "reactivate session failed",
				slog.String("session_id", prev.ID), slog.String("error", err.Error()))
		}
		s.invalidateLeaderboard(ctx)
	}
}

func (s *GameService) onGameEnded(ctx context.Context, sess domain.Session, st domain.GameState) {
	if err := s.sessions.SetStatus(ctx, sess.ID, domain.SessionStatusCompleted); err != nil {
		s.logger.ErrorContext(ctx, "mark session completed failed",
			slog.String("session_id", sess.ID), slog.String("error", err.Error()))
	}
	if sess.Autopilot.Enabled {
		ap := sess.Autopilot
		ap.Enabled = false
		if err := s.sessions.SetAutopilot(ctx, sess.ID, ap); err != nil {
			s.logger.ErrorContext(ctx, "disable autopilot failed",
				slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		}
	}
	s.invalidateLeaderboard(ctx)

	winner, profit := leader(st)
	s.logger.InfoContext(ctx, "game ended",
		slog.String("session_id", sess.ID),
		slog.Int("rounds_played", len(st.RoundHistory)),
		slog.String("leader", winner),
	)
	s.logEvent(ctx, sess.ID, "game_ended", domain.EventStatusSuccess, map[string]any{
		"rounds_played": len(st.RoundHistory),
		"leader":        winner,
		"leader_profit": profit,
	})
	if s.alerts != nil {
		msg := fmt.Sprintf("Session %q finished after %d rounds.", sess.Name, len(st.RoundHistory))
		if winner != "" {
			msg += fmt.Sprintf(" Leader: %s (%.2f).", winner, profit)
		}
		if err := s.alerts.Notify(ctx, "game_ended", "Game ended", msg); err != nil {
			s.logger.WarnContext(ctx, "game_ended notification failed", slog.String("error", err.Error()))
		}
	}
}

func (s *GameService) invalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "leaderboard cache invalidate failed", slog.String("error", err.Error()))
	}
}

// logEvent records an event. Failures are logged and swallowed.
func (s *GameService) logEvent(ctx context.Context, sessionID, action, status string, details map[string]any) {
	if s.events == nil {
		return
	}
	e := domain.GameEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.LogEvent(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "log event failed",
			slog.String("session_id", sessionID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func summaryDetails(sum game.Summary) map[string]any {
	return map[string]any{
		"round":             sum.Round,
		"players_processed": sum.PlayersProcessed,
		"timeouts":          sum.Timeouts,
		"ended":             sum.Ended,
	}
}

// leader returns the player with the highest cumulative profit.
func leader(st domain.GameState) (string, float64) {
	var (
		name string
		best float64
	)
	for _, n := range st.PlayerNames() {
		p := st.PlayerStats[n].TotalProfit
		if name == "" || p > best {
			name, best = n, p
		}
	}
	return name, best
}
