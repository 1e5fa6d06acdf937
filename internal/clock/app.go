// Package clock holds the client-side application state for the time clock: the current
// session, recent history and a ticking wall clock, driven by explicit commands.
package clock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/timeclock/internal/domain"
)

const (
	defaultTickInterval = time.Second
	defaultHistoryLimit = 20
)

// Option configures an App.
type Option func(*App)

// WithLogger routes background fetch failures to logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the wall clock source.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithTickInterval overrides the display tick used by Run.
func WithTickInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.tick = d
		}
	}
}

// WithHistoryLimit sets how many sessions RefreshHistory loads.
func WithHistoryLimit(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// App is the state container. Commands may run concurrently; the store's conditional
// writes decide races, and Busy tells a UI that a command is in flight.
type App struct {
	backend  Backend
	identity Identity
	logger   *log.Logger
	now      func() time.Time

	tick         time.Duration
	historyLimit int

	mu          sync.Mutex
	current     CurrentState
	history     HistoryState
	clock       time.Time
	message     string
	inflight    int
	subscribers []chan Snapshot
}

// New builds an App over backend for the user reported by identity.
func New(backend Backend, identity Identity, opts ...Option) *App {
	a := &App{
		backend:      backend,
		identity:     identity,
		logger:       log.Default(),
		now:          time.Now,
		tick:         defaultTickInterval,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.clock = a.now()
	return a
}

// Snapshot returns a copy of the current state.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Subscribe registers a channel that receives a snapshot after every state change.
// Snapshots are dropped for subscribers whose buffer is full.
func (a *App) Subscribe(buffer int) <-chan Snapshot {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}

// Close closes every subscriber channel.
func (a *App) Close() {
	a.mu.Lock()
	subs := a.subscribers
	a.subscribers = nil
	a.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Run advances Now once per tick until ctx is done. Session state is never touched here.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.update(func() { a.clock = a.now() })
		}
	}
}

// Refresh reloads the active session. A failed read becomes FetchFailed, never None.
func (a *App) Refresh(ctx context.Context) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	a.update(func() {
		if a.current.Kind != CurrentActive {
			a.current = CurrentState{Kind: CurrentLoading}
		}
	})

	session, err := a.backend.Current(ctx)
	if err != nil {
		a.logger.Printf("clock: load current session: %v", err)
		a.update(func() {
			a.current = CurrentState{Kind: CurrentFetchFailed, Err: err}
			a.message = fmt.Sprintf("error loading session: %v", err)
		})
		return err
	}
	a.update(func() { a.current = Active(session) })
	return nil
}

// RefreshHistory reloads the most recent sessions.
func (a *App) RefreshHistory(ctx context.Context) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	return a.loadHistory(ctx, true)
}

// loadHistory fetches the history page. A failure always lands in HistoryState;
// announce also surfaces it as the user-facing message.
func (a *App) loadHistory(ctx context.Context, announce bool) error {
	a.update(func() { a.history.Kind = HistoryLoading })

	sessions, err := a.backend.History(ctx, a.historyLimit)
	if err != nil {
		a.logger.Printf("clock: load history: %v", err)
		a.update(func() {
			a.history = HistoryState{Kind: HistoryFetchFailed, Sessions: a.history.Sessions, Err: err}
			if announce {
				a.message = fmt.Sprintf("error loading history: %v", err)
			}
		})
		return err
	}
	a.update(func() { a.history = HistoryState{Kind: HistoryLoaded, Sessions: sessions} })
	return nil
}

// Start opens a new session.
func (a *App) Start(ctx context.Context) error {
	return a.command(ctx, "starting", a.backend.Start)
}

// Pause pauses the working session.
func (a *App) Pause(ctx context.Context) error {
	return a.command(ctx, "pausing", a.backend.Pause)
}

// Resume resumes the paused session.
func (a *App) Resume(ctx context.Context) error {
	return a.command(ctx, "resuming", a.backend.Resume)
}

// End finishes the active session, clears it and re-queries history.
// Once the end is committed it reports success; a failed re-query only marks History as FetchFailed.
func (a *App) End(ctx context.Context) error {
	if err := a.command(ctx, "ending", a.backend.End); err != nil {
		return err
	}
	_ = a.loadHistory(ctx, false)
	return nil
}

// SignOut drops the identity and forgets all session state.
func (a *App) SignOut() error {
	if a.identity == nil {
		a.update(func() { a.message = "sign in required" })
		return domain.ErrAuthRequired
	}
	if err := a.identity.SignOut(); err != nil {
		a.update(func() { a.message = fmt.Sprintf("error signing out: %v", err) })
		return err
	}
	a.update(func() {
		a.current = CurrentState{Kind: CurrentNone}
		a.history = HistoryState{Kind: HistoryLoaded}
		a.message = "signed out"
	})
	return nil
}

func (a *App) command(ctx context.Context, verb string, call func(context.Context) (*domain.WorkSession, error)) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	a.update(func() { a.inflight++ })

	session, err := call(ctx)

	a.update(func() {
		a.inflight--
		if err != nil {
			a.message = fmt.Sprintf("error %s session: %v", verb, err)
			return
		}
		a.message = ""
		if session.Status == domain.StatusFinished {
			a.current = CurrentState{Kind: CurrentNone}
			return
		}
		a.current = Active(session)
	})
	return err
}

func (a *App) requireIdentity() error {
	if a.identity == nil || !a.identity.Authenticated() {
		a.update(func() { a.message = "sign in required" })
		return domain.ErrAuthRequired
	}
	return nil
}

// update mutates state under the lock and fans the resulting snapshot out.
func (a *App) update(mutate func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mutate()
	snap := a.snapshotLocked()
	for _, ch := range a.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (a *App) snapshotLocked() Snapshot {
	snap := Snapshot{
		Current: a.current,
		History: a.history,
		Now:     a.clock,
		Message: a.message,
		Busy:    a.inflight > 0,
	}
	if a.current.Session != nil {
		s := *a.current.Session
		snap.Current.Session = &s
	}
	if a.history.Sessions != nil {
		snap.History.Sessions = append([]domain.WorkSession(nil), a.history.Sessions...)
	}
	switch a.current.Kind {
	case CurrentActive:
		snap.Actions = domain.AllowedActions(a.current.Session)
	case CurrentNone:
		snap.Actions = domain.AllowedActions(nil)
	}
	return snap
}
