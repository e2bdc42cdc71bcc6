package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// LogEvent appends an event to the game event log.
func (s *Store) LogEvent(ctx context.Context, e domain.GameEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("sqlite: marshal event details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO game_events (id, session_id, action, status, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Action, e.Status, details, toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: log event %s: %w", e.Action, err)
	}
	return nil
}

// ListEvents returns a session's events newest first. An empty sessionID
// lists every session.
func (s *Store) ListEvents(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.GameEvent, error) {
	q := `SELECT id, session_id, action, status, details, created_at FROM game_events WHERE 1=1`
	var args []any
	if sessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if opts.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		q += ` AND created_at <= ?`
		args = append(args, toMillis(*opts.Until))
	}
	q += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}
	return s.queryEvents(ctx, "list events", q, args...)
}

// ListBefore returns events older than the cutoff, oldest first.
func (s *Store) ListBefore(ctx context.Context, before time.Time) ([]domain.GameEvent, error) {
	return s.queryEvents(ctx, "list events before",
		`SELECT id, session_id, action, status, details, created_at FROM game_events
		 WHERE created_at < ? ORDER BY created_at, id`, toMillis(before))
}

// DeleteBefore removes events older than the cutoff.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM game_events WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete events: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, op, q string, args ...any) ([]domain.GameEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.GameEvent
	for rows.Next() {
		var (
			e       domain.GameEvent
			details sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Action, &e.Status, &details, &created); err != nil {
			return nil, fmt.Errorf("sqlite: %s: scan: %w", op, err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("sqlite: %s: unmarshal details: %w", op, err)
			}
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s rows: %w", op, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventLog = (*Store)(nil)
