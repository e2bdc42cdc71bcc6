package domain

import "time"

// Event statuses recorded in the game event log.
const (
	EventStatusSuccess = "success"
	EventStatusFailure = "failure"
	EventStatusSkipped = "skipped"
)

// GameEvent is one structured entry of the game event log. Autopilot runs,
// rejected transitions and archival runs are all recorded here.
type GameEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
