// Package memory provides an in-process work session store for local development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/timeclock/internal/domain"
)

// Store keeps sessions in memory. The one-active-session rule is checked under the write lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.WorkSession
	now      func() time.Time
	lastTime time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.WorkSession),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// FindActive implements domain.Store.
func (s *Store) FindActive(ctx context.Context, userID string) (*domain.WorkSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activeLocked(userID)
	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		session := clone(active[0])
		return &session, nil
	}
	return nil, &domain.IntegrityError{UserID: userID, Count: len(active)}
}

// Insert implements domain.Store.
func (s *Store) Insert(ctx context.Context, session domain.WorkSession) (*domain.WorkSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.UserID) == "" {
		return nil, domain.ErrAuthRequired
	}
	if session.Status == "" {
		session.Status = domain.StatusWorking
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Status.Active() && len(s.activeLocked(session.UserID)) > 0 {
		return nil, domain.ErrConflict
	}

	session.ID = uuid.NewString()
	session.CreatedAt = s.nextCreatedAtLocked()
	session = clone(session)
	s.sessions[session.ID] = session

	out := clone(session)
	return &out, nil
}

// Update implements domain.Store.
func (s *Store) Update(ctx context.Context, userID, id string, patch domain.Patch) (*domain.WorkSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok || current.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if current.Status == domain.StatusFinished || !patch.Allows(current.Status) {
		return nil, domain.ErrConflict
	}

	updated := patch.Apply(current)
	s.sessions[id] = clone(updated)

	out := clone(updated)
	return &out, nil
}

// Get implements domain.Store.
func (s *Store) Get(ctx context.Context, userID, id string) (*domain.WorkSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.UserID != userID {
		return nil, nil
	}
	out := clone(session)
	return &out, nil
}

// ListHistory implements domain.Store.
func (s *Store) ListHistory(ctx context.Context, userID string, page domain.Page) ([]domain.WorkSession, *domain.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.WorkSession, 0)
	for _, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		if page.Cursor != nil && !before(session, *page.Cursor) {
			continue
		}
		results = append(results, clone(session))
	}
	sort.Slice(results, func(i, j int) bool {
		return before(results[j], domain.Cursor{CreatedAt: results[i].CreatedAt, ID: results[i].ID})
	})

	if page.Limit <= 0 || len(results) <= page.Limit {
		return results, nil, nil
	}
	results = results[:page.Limit]
	last := results[len(results)-1]
	return results, &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

// Seed stores a session verbatim, bypassing the active-session check. It exists so tests can
// reproduce integrity violations.
func (s *Store) Seed(session domain.WorkSession) domain.WorkSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.nextCreatedAtLocked()
	}
	s.sessions[session.ID] = clone(session)
	return clone(session)
}

// nextCreatedAtLocked keeps created_at strictly increasing so history order follows insert order.
func (s *Store) nextCreatedAtLocked() time.Time {
	ts := s.now()
	if !ts.After(s.lastTime) {
		ts = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = ts
	return ts
}

func (s *Store) activeLocked(userID string) []domain.WorkSession {
	var active []domain.WorkSession
	for _, session := range s.sessions {
		if session.UserID == userID && session.Status.Active() {
			active = append(active, session)
		}
	}
	return active
}

// before reports whether session sorts after the cursor position in created_at DESC, id DESC order.
func before(session domain.WorkSession, cursor domain.Cursor) bool {
	if session.CreatedAt.Equal(cursor.CreatedAt) {
		return session.ID < cursor.ID
	}
	return session.CreatedAt.Before(cursor.CreatedAt)
}

func clone(session domain.WorkSession) domain.WorkSession {
	if session.PauseTime != nil {
		ts := *session.PauseTime
		session.PauseTime = &ts
	}
	if session.EndTime != nil {
		ts := *session.EndTime
		session.EndTime = &ts
	}
	return session
}
