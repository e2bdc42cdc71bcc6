// Package memory implements the domain store interfaces in process memory.
// It backs single-node deployments without a database and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Store implements domain.SessionStore and domain.EventLog.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	events   []domain.GameEvent
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		now:      time.Now,
	}
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	out.State = s.State.Clone()
	return out
}

// Create inserts a new session.
func (s *Store) Create(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("memory: create session %s: %w", sess.ID, domain.ErrAlreadyExists)
	}
	now := s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Get returns a session by id.
func (s *Store) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("memory: get session %s: %w", id, domain.ErrNotFound)
	}
	return cloneSession(sess), nil
}

// List returns sessions newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if opts.Since != nil && sess.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && sess.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sortSessions(out)
	return page(out, opts), nil
}

// ListByStatus returns all sessions with the given status, newest first.
func (s *Store) ListByStatus(_ context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, cloneSession(sess))
		}
	}
	sortSessions(out)
	return out, nil
}

// ListCompletedSessions returns every completed session.
func (s *Store) ListCompletedSessions(ctx context.Context) ([]domain.Session, error) {
	return s.ListByStatus(ctx, domain.SessionStatusCompleted)
}

// GetState returns the current game state of a session.
func (s *Store) GetState(_ context.Context, id string) (domain.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.GameState{}, fmt.Errorf("memory: get state %s: %w", id, domain.ErrNotFound)
	}
	return sess.State.Clone(), nil
}

// UpdateState replaces the state if the stored version still equals
// expectedVersion.
func (s *Store) UpdateState(_ context.Context, id string, next domain.GameState, expectedVersion int64) (domain.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.GameState{}, fmt.Errorf("memory: update state %s: %w", id, domain.ErrNotFound)
	}
	if sess.State.Version != expectedVersion {
		return domain.GameState{}, fmt.Errorf("memory: update state %s (have v%d, want v%d): %w",
			id, sess.State.Version, expectedVersion, domain.ErrVersionConflict)
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	sess.State = stored
	sess.UpdatedAt = s.now().UTC()
	s.sessions[id] = sess
	return stored.Clone(), nil
}

// SetStatus changes a session's lifecycle status.
func (s *Store) SetStatus(_ context.Context, id string, status domain.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("memory: set status %q: %w", status, domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("memory: set status %s: %w", id, domain.ErrNotFound)
	}
	sess.Status = status
	sess.UpdatedAt = s.now().UTC()
	s.sessions[id] = sess
	return nil
}

// SetAutopilot replaces a session's autopilot settings.
func (s *Store) SetAutopilot(_ context.Context, id string, ap domain.AutopilotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("memory: set autopilot %s: %w", id, domain.ErrNotFound)
	}
	sess.Autopilot = ap
	sess.UpdatedAt = s.now().UTC()
	s.sessions[id] = sess
	return nil
}

// LogEvent appends an event, filling in the id and timestamp when missing.
func (s *Store) LogEvent(_ context.Context, e domain.GameEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// ListEvents returns a session's events newest first. An empty sessionID
// lists events of every session.
func (s *Store) ListEvents(_ context.Context, sessionID string, opts domain.ListOpts) ([]domain.GameEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.GameEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// ListBefore returns events created before the cutoff, oldest first.
func (s *Store) ListBefore(_ context.Context, before time.Time) ([]domain.GameEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.GameEvent
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteBefore drops events created before the cutoff.
func (s *Store) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func sortSessions(ss []domain.Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].CreatedAt.After(ss[j].CreatedAt)
		}
		return ss[i].ID < ss[j].ID
	})
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
