package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict indicates a violation of the one-active-session invariant.
	ErrConflict = errors.New("conflicting active work session")
	// ErrNotFound is returned when a session cannot be located for the user.
	ErrNotFound = errors.New("work session not found")
	// ErrPersistence wraps store and network failures.
	ErrPersistence = errors.New("session store failure")
	// ErrAuthRequired is returned when no authenticated identity is present.
	ErrAuthRequired = errors.New("authenticated identity required")
	// ErrNoActiveSession is returned by pause, resume and end when the user has nothing to act on.
	ErrNoActiveSession = errors.New("no active work session")
)

// ErrInvalidTransition is returned when the active session is in the wrong state for a transition.
var ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrConflict)

// TransitionError describes a rejected state machine transition.
type TransitionError struct {
	Action Action
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s session", e.Action, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition and ErrConflict.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IntegrityError reports that a store found more than one active session for a user.
type IntegrityError struct {
	UserID string
	Count  int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("user %s has %d active work sessions", e.UserID, e.Count)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *IntegrityError) Unwrap() error {
	return ErrConflict
}

// persistenceError classifies store errors: contract errors pass through, everything else
// becomes ErrPersistence.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
