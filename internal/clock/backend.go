package clock

import (
	"context"
	"strings"
	"sync"

	"example.com/timeclock/internal/domain"
)

// Backend performs session operations on behalf of the signed-in user.
type Backend interface {
	Current(ctx context.Context) (*domain.WorkSession, error)
	Start(ctx context.Context) (*domain.WorkSession, error)
	Pause(ctx context.Context) (*domain.WorkSession, error)
	Resume(ctx context.Context) (*domain.WorkSession, error)
	End(ctx context.Context) (*domain.WorkSession, error)
	History(ctx context.Context, limit int) ([]domain.WorkSession, error)
}

// Identity reports whether a user is signed in and can sign them out.
type Identity interface {
	Authenticated() bool
	SignOut() error
}

// ServiceBackend drives a domain.Service directly for a fixed user.
// It is both the Backend and the Identity of local mode.
type ServiceBackend struct {
	service *domain.Service

	mu     sync.RWMutex
	userID string
}

// NewServiceBackend binds service to userID.
func NewServiceBackend(service *domain.Service, userID string) *ServiceBackend {
	if strings.TrimSpace(userID) == "" {
		userID = ""
	}
	return &ServiceBackend{service: service, userID: userID}
}

func (b *ServiceBackend) user() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID
}

// Authenticated implements Identity.
func (b *ServiceBackend) Authenticated() bool { return b.user() != "" }

// SignOut forgets the bound user.
func (b *ServiceBackend) SignOut() error {
	b.mu.Lock()
	b.userID = ""
	b.mu.Unlock()
	return nil
}

func (b *ServiceBackend) Current(ctx context.Context) (*domain.WorkSession, error) {
	return b.service.Current(ctx, b.user())
}

func (b *ServiceBackend) Start(ctx context.Context) (*domain.WorkSession, error) {
	return b.service.Start(ctx, b.user())
}

func (b *ServiceBackend) Pause(ctx context.Context) (*domain.WorkSession, error) {
	return b.service.Pause(ctx, b.user())
}

func (b *ServiceBackend) Resume(ctx context.Context) (*domain.WorkSession, error) {
	return b.service.Resume(ctx, b.user())
}

func (b *ServiceBackend) End(ctx context.Context) (*domain.WorkSession, error) {
	return b.service.End(ctx, b.user())
}

func (b *ServiceBackend) History(ctx context.Context, limit int) ([]domain.WorkSession, error) {
	sessions, _, err := b.service.History(ctx, b.user(), domain.Page{Limit: limit})
	return sessions, err
}
