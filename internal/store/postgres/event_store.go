package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// EventStore implements domain.EventLog on the game_events table.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// LogEvent appends an event. Details are stored as JSONB.
func (s *EventStore) LogEvent(ctx context.Context, e domain.GameEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal event details: %w", err)
	}

	const q = `
		INSERT INTO game_events (id, session_id, action, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q, e.ID, e.SessionID, e.Action, e.Status, details, e.CreatedAt); err != nil {
		return fmt.Errorf("postgres: log event %s: %w", e.Action, err)
	}
	return nil
}

// ListEvents returns a session's events newest first. An empty sessionID
// lists every session.
func (s *EventStore) ListEvents(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.GameEvent, error) {
	q := `SELECT id, session_id, action, status, details, created_at FROM game_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if sessionID != "" {
		q += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, sessionID)
		argIdx++
	}
	if opts.Since != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		q += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.query(ctx, "list events", q, args...)
}

// ListBefore returns events older than the cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.GameEvent, error) {
	return s.query(ctx, "list events before",
		`SELECT id, session_id, action, status, details, created_at FROM game_events
		 WHERE created_at < $1 ORDER BY created_at`, before)
}

// DeleteBefore removes events older than the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM game_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *EventStore) query(ctx context.Context, op, q string, args ...any) ([]domain.GameEvent, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GameEvent, error) {
		var (
			e   domain.GameEvent
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.SessionID, &e.Action, &e.Status, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return e, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventLog = (*EventStore)(nil)
