package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// SessionStore implements domain.SessionStore. Config and state are stored
// as JSONB; the version column carries the optimistic concurrency token.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionCols = `id, name, config, status, autopilot_enabled, auto_start_rounds,
	state, version, created_at, updated_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s                 domain.Session
		status            string
		cfgJSON, stateRaw []byte
		version           int64
	)
	if err := row.Scan(&s.ID, &s.Name, &cfgJSON, &status,
		&s.Autopilot.Enabled, &s.Autopilot.AutoStartRounds,
		&stateRaw, &version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(cfgJSON, &s.Config); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(stateRaw, &s.State); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal state: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	s.State.Version = version
	return s, nil
}

func (st *SessionStore) query(ctx context.Context, op, q string, args ...any) ([]domain.Session, error) {
	rows, err := st.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// Create inserts a new session.
func (st *SessionStore) Create(ctx context.Context, s domain.Session) error {
	cfgJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal config: %w", err)
	}
	stateJSON, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal state: %w", err)
	}

	const q = `
		INSERT INTO sessions (id, name, config, status, autopilot_enabled, auto_start_rounds,
			state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`
	_, err = st.pool.Exec(ctx, q,
		s.ID, s.Name, cfgJSON, string(s.Status),
		s.Autopilot.Enabled, s.Autopilot.AutoStartRounds,
		stateJSON, s.State.Version, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: create session %s: %w", s.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create session %s: %w", s.ID, err)
	}
	return nil
}

// Get returns one session.
func (st *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return s, nil
}

// List returns sessions newest first with pagination.
func (st *SessionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions WHERE 1=1`
	args := []any{}
	argIdx := 1

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
	q += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return st.query(ctx, "list sessions", q, args...)
}

// ListByStatus returns every session with the given status.
func (st *SessionStore) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	return st.query(ctx, "list sessions by status",
		`SELECT `+sessionCols+` FROM sessions WHERE status = $1 ORDER BY created_at DESC, id`, string(status))
}

// ListCompletedSessions returns every completed session.
func (st *SessionStore) ListCompletedSessions(ctx context.Context) ([]domain.Session, error) {
	return st.ListByStatus(ctx, domain.SessionStatusCompleted)
}

// GetState returns only the game state of a session.
func (st *SessionStore) GetState(ctx context.Context, id string) (domain.GameState, error) {
	var (
		raw     []byte
		version int64
	)
	err := st.pool.QueryRow(ctx, `SELECT state, version FROM sessions WHERE id = $1`, id).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameState{}, fmt.Errorf("postgres: get state %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.GameState{}, fmt.Errorf("postgres: get state %s: %w", id, err)
	}
	var s domain.GameState
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.GameState{}, fmt.Errorf("postgres: unmarshal state %s: %w", id, err)
	}
	s.Version = version
	return s, nil
}

// UpdateState replaces the state when the row still carries expectedVersion.
func (st *SessionStore) UpdateState(ctx context.Context, id string, next domain.GameState, expectedVersion int64) (domain.GameState, error) {
	next.Version = expectedVersion + 1
	raw, err := json.Marshal(next)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("postgres: marshal state: %w", err)
	}

	const q = `
		UPDATE sessions SET state = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`
	tag, err := st.pool.Exec(ctx, q, raw, id, expectedVersion)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("postgres: update state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := st.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return domain.GameState{}, fmt.Errorf("postgres: update state %s: %w", id, err)
		}
		if !exists {
			return domain.GameState{}, fmt.Errorf("postgres: update state %s: %w", id, domain.ErrNotFound)
		}
		return domain.GameState{}, fmt.Errorf("postgres: update state %s: %w", id, domain.ErrVersionConflict)
	}
	return next, nil
}

// SetStatus changes a session's lifecycle status.
func (st *SessionStore) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("postgres: set status %q: %w", status, domain.ErrValidation)
	}
	tag, err := st.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: set status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetAutopilot replaces a session's autopilot settings.
func (st *SessionStore) SetAutopilot(ctx context.Context, id string, ap domain.AutopilotConfig) error {
	tag, err := st.pool.Exec(ctx,
		`UPDATE sessions SET autopilot_enabled = $1, auto_start_rounds = $2, updated_at = NOW() WHERE id = $3`,
		ap.Enabled, ap.AutoStartRounds, id)
	if err != nil {
		return fmt.Errorf("postgres: set autopilot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set autopilot %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
