package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SessionStore persists sessions and their game state.
//
// UpdateState replaces the whole state only when the stored version equals
// expectedVersion and returns the stored state with its new version. A stale
// version yields ErrVersionConflict.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, opts ListOpts) ([]Session, error)
	ListByStatus(ctx context.Context, status SessionStatus) ([]Session, error)
	ListCompletedSessions(ctx context.Context) ([]Session, error)
	GetState(ctx context.Context, id string) (GameState, error)
	UpdateState(ctx context.Context, id string, next GameState, expectedVersion int64) (GameState, error)
	SetStatus(ctx context.Context, id string, status SessionStatus) error
	SetAutopilot(ctx context.Context, id string, ap AutopilotConfig) error
}

// StateFeed fans out state snapshots to subscribers. Delivery is
// at-least-once and a callback always sees a state at least as new as the
// previous one it received.
type StateFeed interface {
	Publish(ctx context.Context, sessionID string, state GameState) error
	Subscribe(ctx context.Context, sessionID string, cb func(GameState)) (unsubscribe func(), err error)
}

// EventLog persists the append-only game event log.
type EventLog interface {
	LogEvent(ctx context.Context, e GameEvent) error
	ListEvents(ctx context.Context, sessionID string, opts ListOpts) ([]GameEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]GameEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
