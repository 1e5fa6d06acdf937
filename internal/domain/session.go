package domain

import (
	"context"
	"time"
)

// Status is the lifecycle state of a work session record.
type Status string

const (
	StatusWorking  Status = "working"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// ActiveStatuses lists the statuses that occupy the single active slot of a user.
var ActiveStatuses = []Status{StatusWorking, StatusPaused}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWorking, StatusPaused, StatusFinished:
		return true
	}
	return false
}

// Active reports whether the status counts as the user's active session.
func (s Status) Active() bool {
	return s == StatusWorking || s == StatusPaused
}

// Label returns the display label for the status.
func (s Status) Label() string {
	switch s {
	case StatusWorking:
		return "Working"
	case StatusPaused:
		return "Paused"
	case StatusFinished:
		return "Finished"
	}
	return "Ready to start"
}

// WorkSession is one work period attempt of a user.
type WorkSession struct {
	ID        string
	UserID    string
	StartTime time.Time
	PauseTime *time.Time
	EndTime   *time.Time
	Status    Status
	CreatedAt time.Time
}

// Elapsed returns wall time from start to end, or to now while the session is active.
// Pauses are not subtracted.
func (s WorkSession) Elapsed(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Action is a user intent accepted by the state machine.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionEnd    Action = "end"
)

// AllowedActions returns the intents valid for the given current session (nil means none active).
func AllowedActions(current *WorkSession) []Action {
	if current == nil {
		return []Action{ActionStart}
	}
	switch current.Status {
	case StatusWorking:
		return []Action{ActionPause, ActionEnd}
	case StatusPaused:
		return []Action{ActionResume, ActionEnd}
	}
	return []Action{ActionStart}
}

// Patch is a partial update of the mutable fields of a session.
// From lists the statuses the row must currently have for the update to apply.
type Patch struct {
	From           []Status
	Status         *Status
	PauseTime      *time.Time
	ClearPauseTime bool
	EndTime        *time.Time
}

// Allows reports whether the precondition accepts the current status.
func (p Patch) Allows(current Status) bool {
	if len(p.From) == 0 {
		return true
	}
	for _, s := range p.From {
		if s == current {
			return true
		}
	}
	return false
}

// Apply returns a copy of s with the patch fields applied. The precondition is not checked.
func (p Patch) Apply(s WorkSession) WorkSession {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ClearPauseTime {
		s.PauseTime = nil
	}
	if p.PauseTime != nil {
		ts := *p.PauseTime
		s.PauseTime = &ts
	}
	if p.EndTime != nil {
		ts := *p.EndTime
		s.EndTime = &ts
	}
	return s
}

// Cursor models the history pagination position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Page bounds a history query. A zero Limit returns every record.
type Page struct {
	Cursor *Cursor
	Limit  int
}

// Store captures the persistence contract for work sessions.
// Every call is scoped to userID; rows of other users are invisible.
type Store interface {
	// FindActive returns the user's working or paused session, nil when there is none,
	// and ErrConflict when more than one exists.
	FindActive(ctx context.Context, userID string) (*WorkSession, error)
	// Insert stores a new working session, assigning ID and CreatedAt.
	// It fails with ErrConflict when the user already has an active session.
	Insert(ctx context.Context, session WorkSession) (*WorkSession, error)
	// Update applies patch to the session and returns the stored result.
	Update(ctx context.Context, userID, id string, patch Patch) (*WorkSession, error)
	// Get returns (nil, nil) when the user has no session with that id; Update reports ErrNotFound instead.
	Get(ctx context.Context, userID, id string) (*WorkSession, error)
	// ListHistory returns sessions ordered by created_at descending.
	ListHistory(ctx context.Context, userID string, page Page) ([]WorkSession, *Cursor, error)
}
