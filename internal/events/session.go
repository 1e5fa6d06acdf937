// Package events defines the payloads published for work session lifecycle changes.
package events

import "time"

// WorkSessionChanged is emitted for every committed state machine transition.
type WorkSessionChanged struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	EventType  string     `json:"event_type"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	PauseTime  *time.Time `json:"pause_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	Version    string     `json:"version"`
}

// WorkSessionTopic carries every WorkSessionChanged record, keyed by user id.
const WorkSessionTopic = "work_session_events"
