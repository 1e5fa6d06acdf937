// Package domain defines the work session state machine and its store contract.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/timeclock/internal/observability"
)

// Service runs the session state machine for authenticated users against a Store.
type Service struct {
	store              Store
	now                func() time.Time
	clearPauseOnResume bool
	events             broker
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithClearPauseOnResume makes Resume clear pause_time instead of keeping the last pause.
func WithClearPauseOnResume() Option {
	return func(s *Service) {
		s.clearPauseOnResume = true
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a channel that receives committed transitions.
// Events are dropped for subscribers whose buffer is full.
func (s *Service) Subscribe(buffer int) <-chan Event {
	return s.events.subscribe(buffer)
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (s *Service) Unsubscribe(ch <-chan Event) {
	s.events.unsubscribe(ch)
}

// Start opens a new working session for the user.
func (s *Service) Start(ctx context.Context, userID string) (*WorkSession, error) {
	session, err := s.start(ctx, userID)
	observability.RecordTransition(string(ActionStart), resultLabel(err))
	return session, err
}

func (s *Service) start(ctx context.Context, userID string) (*WorkSession, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}

	active, err := s.findActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: session %s is %s", ErrConflict, active.ID, active.Status)
	}

	now := s.now()
	created, err := s.store.Insert(ctx, WorkSession{
		UserID:    userID,
		StartTime: now,
		Status:    StatusWorking,
	})
	if err != nil {
		return nil, persistenceError("insert session", err)
	}

	s.events.publish(Event{Type: EventStarted, Session: *created, At: now})
	return created, nil
}

// Pause moves the working session to paused and records the pause time.
func (s *Service) Pause(ctx context.Context, userID string) (*WorkSession, error) {
	session, err := s.transition(ctx, userID, ActionPause, []Status{StatusWorking}, func(now time.Time) Patch {
		status := StatusPaused
		return Patch{Status: &status, PauseTime: &now}
	})
	observability.RecordTransition(string(ActionPause), resultLabel(err))
	return session, err
}

// Resume moves the paused session back to working.
func (s *Service) Resume(ctx context.Context, userID string) (*WorkSession, error) {
	session, err := s.transition(ctx, userID, ActionResume, []Status{StatusPaused}, func(time.Time) Patch {
		status := StatusWorking
		return Patch{Status: &status, ClearPauseTime: s.clearPauseOnResume}
	})
	observability.RecordTransition(string(ActionResume), resultLabel(err))
	return session, err
}

// End finishes the active session. The returned record is immutable from then on.
func (s *Service) End(ctx context.Context, userID string) (*WorkSession, error) {
	session, err := s.transition(ctx, userID, ActionEnd, ActiveStatuses, func(now time.Time) Patch {
		status := StatusFinished
		return Patch{Status: &status, EndTime: &now}
	})
	observability.RecordTransition(string(ActionEnd), resultLabel(err))
	if err == nil {
		observability.RecordSessionFinished(session.Elapsed(*session.EndTime))
	}
	return session, err
}

// Current returns the user's active session or nil.
func (s *Service) Current(ctx context.Context, userID string) (*WorkSession, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return s.findActive(ctx, userID)
}

// Get fetches one of the user's sessions by ID.
func (s *Service) Get(ctx context.Context, userID, id string) (*WorkSession, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, persistenceError("get session", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// History lists the user's sessions, newest first.
func (s *Service) History(ctx context.Context, userID string, page Page) ([]WorkSession, *Cursor, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, nil, err
	}
	if page.Limit < 0 {
		page.Limit = 0
	}
	sessions, next, err := s.store.ListHistory(ctx, userID, page)
	if err != nil {
		return nil, nil, persistenceError("list history", err)
	}
	return sessions, next, nil
}

// transition performs the read-modify-write shared by pause, resume and end.
// The update is conditional on the status that was read, so a concurrent change fails with ErrConflict.
func (s *Service) transition(ctx context.Context, userID string, action Action, from []Status, build func(time.Time) Patch) (*WorkSession, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}

	active, err := s.findActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNoActiveSession
	}
	if !containsStatus(from, active.Status) {
		return nil, &TransitionError{Action: action, From: active.Status}
	}

	now := s.now()
	patch := build(now)
	patch.From = []Status{active.Status}

	updated, err := s.store.Update(ctx, userID, active.ID, patch)
	if err != nil {
		return nil, persistenceError(string(action)+" session", err)
	}

	s.events.publish(Event{Type: EventTypeFor(action), Session: *updated, At: now})
	return updated, nil
}

func (s *Service) findActive(ctx context.Context, userID string) (*WorkSession, error) {
	active, err := s.store.FindActive(ctx, userID)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			observability.RecordIntegrityViolation()
		}
		return nil, persistenceError("find active session", err)
	}
	return active, nil
}

// requireUser rejects blank ids. Ids are opaque and are never rewritten, so " alice " is not alice.
func requireUser(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrAuthRequired
	}
	return userID, nil
}

func containsStatus(statuses []Status, target Status) bool {
	for _, s := range statuses {
		if s == target {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthRequired):
		return "unauthenticated"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "persistence_error"
}
