// Package client talks to the timeclock HTTP API on behalf of a signed-in user.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"example.com/timeclock/internal/api"
	"example.com/timeclock/internal/domain"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status int
	Type   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Type, e.Status)
	}
	return e.Detail
}

// Unwrap maps the error type onto the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Type {
	case "unauthorized":
		return domain.ErrAuthRequired
	case "no_active_session":
		return domain.ErrNoActiveSession
	case "conflict":
		return domain.ErrConflict
	case "not_found":
		return domain.ErrNotFound
	case "store_unavailable":
		return domain.ErrPersistence
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSignOutHook runs fn after the token is dropped, typically to persist the change.
func WithSignOutHook(fn func() error) Option {
	return func(c *Client) { c.onSignOut = fn }
}

// Client is a Backend and Identity for the clock container backed by the HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	onSignOut  func() error

	mu    sync.RWMutex
	token string
}

// New builds a client from settings.
func New(settings Settings, opts ...Option) *Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(settings.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      settings.Token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticated reports whether a token is held.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// SignOut drops the token.
func (c *Client) SignOut() error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if c.onSignOut != nil {
		return c.onSignOut()
	}
	return nil
}

// Current returns the active session or nil.
func (c *Client) Current(ctx context.Context) (*domain.WorkSession, error) {
	var resp api.CurrentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/current", &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, nil
	}
	session := resp.Session.Domain()
	return &session, nil
}

func (c *Client) Start(ctx context.Context) (*domain.WorkSession, error) {
	return c.transition(ctx, "start")
}

func (c *Client) Pause(ctx context.Context) (*domain.WorkSession, error) {
	return c.transition(ctx, "pause")
}

func (c *Client) Resume(ctx context.Context) (*domain.WorkSession, error) {
	return c.transition(ctx, "resume")
}

func (c *Client) End(ctx context.Context) (*domain.WorkSession, error) {
	return c.transition(ctx, "end")
}

// Get fetches one session by id.
func (c *Client) Get(ctx context.Context, id string) (*domain.WorkSession, error) {
	var view api.SessionView
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), &view); err != nil {
		return nil, err
	}
	session := view.Domain()
	return &session, nil
}

// History returns the newest limit sessions.
func (c *Client) History(ctx context.Context, limit int) ([]domain.WorkSession, error) {
	sessions, _, err := c.HistoryPage(ctx, limit, "")
	return sessions, err
}

// HistoryPage returns one page of history and the cursor for the next one ("" when done).
func (c *Client) HistoryPage(ctx context.Context, limit int, cursor string) ([]domain.WorkSession, string, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/v1/sessions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, "", err
	}
	sessions := make([]domain.WorkSession, 0, len(resp.Items))
	for _, item := range resp.Items {
		sessions = append(sessions, item.Domain())
	}
	return sessions, resp.NextCursor, nil
}

func (c *Client) transition(ctx context.Context, action string) (*domain.WorkSession, error) {
	var view api.SessionView
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+action, &view); err != nil {
		return nil, err
	}
	session := view.Domain()
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return domain.ErrAuthRequired
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrPersistence, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var payload api.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Type != "" {
		apiErr.Type = payload.Type
		apiErr.Detail = payload.Detail
		return apiErr
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Type = "unauthorized"
	case resp.StatusCode >= 500:
		apiErr.Type = "server_error"
	default:
		apiErr.Type = "http_error"
	}
	apiErr.Detail = strings.TrimSpace(string(body))
	return apiErr
}

// IsAuthError reports whether err means the stored token is missing or rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthRequired)
}
