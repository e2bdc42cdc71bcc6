package domain

import "time"

// SessionStatus tracks where a session is in its lifecycle.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusArchived  SessionStatus = "archived"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusArchived:
		return true
	}
	return false
}

// AutopilotConfig controls timer-driven settlement for a session.
type AutopilotConfig struct {
	Enabled         bool `json:"enabled"`
	AutoStartRounds bool `json:"auto_start_rounds"`
}

// Session wraps a game with its immutable configuration and lifecycle status.
type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Config    GameConfig      `json:"config"`
	Status    SessionStatus   `json:"status"`
	Autopilot AutopilotConfig `json:"autopilot"`
	State     GameState       `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
