package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/game"
)

// Autopilot polls active sessions and settles rounds whose time limit has
// passed. The poll interval bounds how long a round can overrun.
type Autopilot struct {
	sessions domain.SessionStore
	games    *GameService
	events   domain.EventLog
	locks    domain.LockManager
	alerts   Alerter
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// TickReport counts what one autopilot pass did.
type TickReport struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Started  int `json:"started"`
	Skipped  int `json:"skipped"`
	Failures int `json:"failures"`
}

// NewAutopilot creates an Autopilot. locks and alerts may be nil.
func NewAutopilot(
	sessions domain.SessionStore,
	games *GameService,
	events domain.EventLog,
	locks domain.LockManager,
	alerts Alerter,
	interval, lockTTL time.Duration,
	logger *slog.Logger,
) *Autopilot {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Autopilot{
		sessions: sessions,
		games:    games,
		events:   events,
		locks:    locks,
		alerts:   alerts,
		interval: interval,
		lockTTL:  lockTTL,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "autopilot")),
	}
}

// WithClock replaces the wall clock. Used by tests.
func (a *Autopilot) WithClock(now func() time.Time) *Autopilot {
	a.now = now
	return a
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (a *Autopilot) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "autopilot started", slog.Duration("interval", a.interval))
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.logger.ErrorContext(ctx, "autopilot tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick makes one pass over the active sessions.
func (a *Autopilot) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	active, err := a.sessions.ListByStatus(ctx, domain.SessionStatusActive)
	if err != nil {
		return rep, fmt.Errorf("autopilot: list active sessions: %w", err)
	}
	for _, sess := range active {
		if !sess.Autopilot.Enabled {
			continue
		}
		rep.Checked++
		a.process(ctx, sess, &rep)
	}
	if rep.Settled > 0 || rep.Started > 0 || rep.Failures > 0 {
		a.logger.InfoContext(ctx, "autopilot tick",
			slog.Int("checked", rep.Checked),
			slog.Int("settled", rep.Settled),
			slog.Int("started", rep.Started),
			slog.Int("skipped", rep.Skipped),
			slog.Int("failures", rep.Failures),
		)
	}
	return rep, nil
}

func (a *Autopilot) process(ctx context.Context, sess domain.Session, rep *TickReport) {
	st := sess.State
	now := a.now()
	expired := game.RoundExpired(st, now)
	canStart := sess.Autopilot.AutoStartRounds && !st.RoundActive() &&
		st.IsActive && !st.IsEnded && len(st.Players) > 0 && st.CurrentRound <= st.TotalRounds
	if !expired && !canStart {
		return
	}

	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "autopilot:"+sess.ID, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			rep.Skipped++
			return
		}
		if err != nil {
			a.logger.WarnContext(ctx, "autopilot lock failed",
				slog.String("session_id", sess.ID), slog.String("error", err.Error()))
			rep.Failures++
			return
		}
		defer unlock()
	}

	ended := false
	if expired {
		sum, err := a.games.EndRoundAutopilot(ctx, sess.ID)
		switch {
		case errors.Is(err, domain.ErrStateConflict):
			// Someone else settled the round first.
			rep.Skipped++
			a.record(ctx, sess.ID, "autopilot_end_round", domain.EventStatusSkipped, map[string]any{"reason": err.Error()})
			return
		case err != nil:
			rep.Failures++
			a.fail(ctx, sess, "autopilot_end_round", err)
			return
		}
		rep.Settled++
		ended = sum.Ended
		a.record(ctx, sess.ID, "autopilot_end_round", domain.EventStatusSuccess, summaryDetails(sum))
	}

	if ended || !sess.Autopilot.AutoStartRounds {
		return
	}
	st2, err := a.games.StartRound(ctx, sess.ID)
	switch {
	case errors.Is(err, domain.ErrStateConflict):
		return
	case err != nil:
		rep.Failures++
		a.fail(ctx, sess, "autopilot_start_round", err)
		return
	}
	rep.Started++
	a.record(ctx, sess.ID, "autopilot_start_round", domain.EventStatusSuccess, map[string]any{"round": st2.CurrentRound})
}

func (a *Autopilot) fail(ctx context.Context, sess domain.Session, action string, err error) {
	a.logger.ErrorContext(ctx, "autopilot action failed",
		slog.String("session_id", sess.ID),
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
	a.record(ctx, sess.ID, action, domain.EventStatusFailure, map[string]any{"error": err.Error()})
	if a.alerts != nil {
		msg := fmt.Sprintf("Session %q: %s failed: %v", sess.Name, action, err)
		if nerr := a.alerts.Notify(ctx, "autopilot_failed", "Autopilot failure", msg); nerr != nil {
			a.logger.WarnContext(ctx, "autopilot_failed notification failed", slog.String("error", nerr.Error()))
		}
	}
}

func (a *Autopilot) record(ctx context.Context, sessionID, action, status string, details map[string]any) {
	if a.events == nil {
		return
	}
	e := domain.GameEvent{
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Details:   details,
		CreatedAt: a.now().UTC(),
	}
	if err := a.events.LogEvent(ctx, e); err != nil {
		a.logger.WarnContext(ctx, "log event failed",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}
