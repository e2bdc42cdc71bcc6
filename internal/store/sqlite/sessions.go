package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

const sessionCols = `id, name, config, status, autopilot_enabled, auto_start_rounds,
	state, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                   domain.Session
		status, cfg, state  string
		enabled, autoStart  int
		version             int64
		createdAt, updateAt int64
	)
	if err := row.Scan(&s.ID, &s.Name, &cfg, &status, &enabled, &autoStart,
		&state, &version, &createdAt, &updateAt); err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &s.Config); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &s.State); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal state: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	s.Autopilot = domain.AutopilotConfig{Enabled: enabled != 0, AutoStartRounds: autoStart != 0}
	s.State.Version = version
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updateAt)
	return s, nil
}

func (s *Store) querySessions(ctx context.Context, op, q string, args ...any) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: scan: %w", op, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s rows: %w", op, err)
	}
	return out, nil
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess domain.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("sqlite: marshal config: %w", err)
	}
	state, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("sqlite: marshal state: %w", err)
	}
	now := s.now()
	created := sess.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, string(cfg), string(sess.Status),
		boolInt(sess.Autopilot.Enabled), boolInt(sess.Autopilot.AutoStartRounds),
		string(state), sess.State.Version, toMillis(created), toMillis(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: create session %s: %w", sess.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("sqlite: create session %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns one session.
func (s *Store) Get(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("sqlite: get session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("sqlite: get session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions newest first with pagination.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions WHERE 1=1`
	var args []any
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
	return s.querySessions(ctx, "list sessions", q, args...)
}

// ListByStatus returns every session with the given status.
func (s *Store) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	return s.querySessions(ctx, "list sessions by status",
		`SELECT `+sessionCols+` FROM sessions WHERE status = ? ORDER BY created_at DESC, id`, string(status))
}

// ListCompletedSessions returns every completed session.
func (s *Store) ListCompletedSessions(ctx context.Context) ([]domain.Session, error) {
	return s.ListByStatus(ctx, domain.SessionStatusCompleted)
}

// GetState returns the game state of a session.
func (s *Store) GetState(ctx context.Context, id string) (domain.GameState, error) {
	var (
		raw     string
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT state, version FROM sessions WHERE id = ?`, id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameState{}, fmt.Errorf("sqlite: get state %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.GameState{}, fmt.Errorf("sqlite: get state %s: %w", id, err)
	}
	var st domain.GameState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.GameState{}, fmt.Errorf("sqlite: unmarshal state %s: %w", id, err)
	}
	st.Version = version
	return st, nil
}

// UpdateState replaces the state when the row still carries expectedVersion.
func (s *Store) UpdateState(ctx context.Context, id string, next domain.GameState, expectedVersion int64) (domain.GameState, error) {
	next.Version = expectedVersion + 1
	raw, err := json.Marshal(next)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("sqlite: marshal state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		string(raw), toMillis(s.now()), id, expectedVersion)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("sqlite: update state %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.GameState{}, fmt.Errorf("sqlite: update state %s: %w", id, err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
			return domain.GameState{}, fmt.Errorf("sqlite: update state %s: %w", id, err)
		}
		if exists == 0 {
			return domain.GameState{}, fmt.Errorf("sqlite: update state %s: %w", id, domain.ErrNotFound)
		}
		return domain.GameState{}, fmt.Errorf("sqlite: update state %s: %w", id, domain.ErrVersionConflict)
	}
	return next, nil
}

// SetStatus changes a session's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("sqlite: set status %q: %w", status, domain.ErrValidation)
	}
	return s.updateRow(ctx, "set status", id,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(s.now()), id)
}

// SetAutopilot replaces a session's autopilot settings.
func (s *Store) SetAutopilot(ctx context.Context, id string, ap domain.AutopilotConfig) error {
	return s.updateRow(ctx, "set autopilot", id,
		`UPDATE sessions SET autopilot_enabled = ?, auto_start_rounds = ?, updated_at = ? WHERE id = ?`,
		boolInt(ap.Enabled), boolInt(ap.AutoStartRounds), toMillis(s.now()), id)
}

func (s *Store) updateRow(ctx context.Context, op, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*Store)(nil)
