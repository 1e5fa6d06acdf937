package clock

import (
	"fmt"
	"time"

	"example.com/timeclock/internal/domain"
)

// CurrentKind distinguishes "no session" from "could not tell".
type CurrentKind int

const (
	CurrentLoading CurrentKind = iota
	CurrentActive
	CurrentNone
	CurrentFetchFailed
)

func (k CurrentKind) String() string {
	switch k {
	case CurrentActive:
		return "active"
	case CurrentNone:
		return "none"
	case CurrentFetchFailed:
		return "fetch_failed"
	}
	return "loading"
}

// CurrentState is the container's view of the user's active session.
// Session is set only for CurrentActive and Err only for CurrentFetchFailed.
type CurrentState struct {
	Kind    CurrentKind
	Session *domain.WorkSession
	Err     error
}

// Active wraps a session; a nil session yields the None state.
func Active(session *domain.WorkSession) CurrentState {
	if session == nil {
		return CurrentState{Kind: CurrentNone}
	}
	s := *session
	return CurrentState{Kind: CurrentActive, Session: &s}
}

// Label is the status line shown next to the clock.
func (c CurrentState) Label() string {
	switch c.Kind {
	case CurrentLoading:
		return "Loading..."
	case CurrentFetchFailed:
		return "Status unavailable"
	case CurrentActive:
		return c.Session.Status.Label()
	}
	return domain.Status("").Label()
}

// HistoryKind is the load state of the history list.
type HistoryKind int

const (
	HistoryLoading HistoryKind = iota
	HistoryLoaded
	HistoryFetchFailed
)

// HistoryState holds the most recent history page.
type HistoryState struct {
	Kind     HistoryKind
	Sessions []domain.WorkSession
	Err      error
}

// Snapshot is an immutable copy of the container state handed to subscribers.
type Snapshot struct {
	Current CurrentState
	History HistoryState
	Now     time.Time
	Message string
	Busy    bool
	Actions []domain.Action
}

// Can reports whether action is currently offered to the user.
func (s Snapshot) Can(action domain.Action) bool {
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// FormatClock renders t as HH:MM:SS; the zero time renders as placeholders.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Format("15:04:05")
}

// FormatDuration renders d as HH:MM:SS, rounding down to the second.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
