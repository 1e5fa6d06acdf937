package api

import (
	"time"

	"example.com/timeclock/internal/domain"
)

// SessionView is the wire form of a work session.
type SessionView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartTime time.Time  `json:"start_time"`
	PauseTime *time.Time `json:"pause_time"`
	EndTime   *time.Time `json:"end_time"`
	Status    string     `json:"status"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
}

// Domain converts the view back into a domain record.
func (v SessionView) Domain() domain.WorkSession {
	return domain.WorkSession{
		ID:        v.ID,
		UserID:    v.UserID,
		StartTime: v.StartTime,
		PauseTime: v.PauseTime,
		EndTime:   v.EndTime,
		Status:    domain.Status(v.Status),
		CreatedAt: v.CreatedAt,
	}
}

// CurrentResponse wraps the active session; Session is null when there is none.
type CurrentResponse struct {
	Session *SessionView `json:"session"`
}

// HistoryResponse packages a page of history.
type HistoryResponse struct {
	Items      []SessionView `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// EventView is the data of one server-sent event on /v1/sessions/events.
type EventView struct {
	Type    string      `json:"type"`
	At      time.Time   `json:"at"`
	Session SessionView `json:"session"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func toSessionView(s domain.WorkSession) SessionView {
	return SessionView{
		ID:        s.ID,
		UserID:    s.UserID,
		StartTime: s.StartTime,
		PauseTime: s.PauseTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
		Label:     s.Status.Label(),
		CreatedAt: s.CreatedAt,
	}
}

func toEventView(e domain.Event) EventView {
	return EventView{Type: string(e.Type), At: e.At, Session: toSessionView(e.Session)}
}
