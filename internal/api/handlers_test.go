package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/timeclock/internal/auth"
	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/persistence/memory"
)

func newTestMux(t *testing.T, store domain.Store) *http.ServeMux {
	t.Helper()
	service := domain.NewService(store)
	handler := NewHandler(service, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func claimsFor(user string, scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &auth.Claims{Subject: user, Scopes: set, ExpiresAt: time.Now().Add(time.Hour)}
}

func do(t *testing.T, mux http.Handler, method, path string, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())
	writer := claimsFor("user-1", auth.ScopeSessionsWrite)

	rr := do(t, mux, http.MethodGet, "/v1/sessions/current", writer)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"session":null}`, rr.Body.String())

	rr = do(t, mux, http.MethodPost, "/v1/sessions/start", writer)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	started := decode[SessionView](t, rr)
	require.Equal(t, "working", started.Status)
	require.Equal(t, "Working", started.Label)
	require.Equal(t, "user-1", started.UserID)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/pause", writer)
	require.Equal(t, http.StatusOK, rr.Code)
	paused := decode[SessionView](t, rr)
	require.Equal(t, "paused", paused.Status)
	require.NotNil(t, paused.PauseTime)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/resume", writer)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/sessions/current", writer)
	current := decode[CurrentResponse](t, rr)
	require.NotNil(t, current.Session)
	require.Equal(t, started.ID, current.Session.ID)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/end", writer)
	require.Equal(t, http.StatusOK, rr.Code)
	ended := decode[SessionView](t, rr)
	require.Equal(t, "finished", ended.Status)
	require.NotNil(t, ended.EndTime)

	rr = do(t, mux, http.MethodGet, "/v1/sessions/"+started.ID, writer)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "finished", decode[SessionView](t, rr).Status)

	rr = do(t, mux, http.MethodGet, "/v1/sessions", writer)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[HistoryResponse](t, rr)
	require.Len(t, history.Items, 1)
	require.Empty(t, history.NextCursor)
}

func TestErrorMapping(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())
	writer := claimsFor("user-1", auth.ScopeSessionsWrite)
	reader := claimsFor("user-1", auth.ScopeSessionsRead)

	rr := do(t, mux, http.MethodPost, "/v1/sessions/start", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/start", reader)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "forbidden", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodGet, "/v1/sessions/current", claimsFor("user-1"))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/pause", writer)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "no_active_session", decode[ErrorResponse](t, rr).Type)

	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/v1/sessions/start", writer).Code)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/start", writer)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "conflict", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodPost, "/v1/sessions/resume", writer)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "conflict", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodGet, "/v1/sessions/does-not-exist", reader)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodGet, "/v1/sessions?limit=abc", reader)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", decode[ErrorResponse](t, rr).Type)

	rr = do(t, mux, http.MethodGet, "/v1/sessions?cursor=@@@", reader)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOtherUsersSessionsAreHidden(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())

	rr := do(t, mux, http.MethodPost, "/v1/sessions/start", claimsFor("owner", auth.ScopeSessionsWrite))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[SessionView](t, rr).ID

	rr = do(t, mux, http.MethodGet, "/v1/sessions/"+id, claimsFor("intruder", auth.ScopeSessionsRead))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/sessions", claimsFor("intruder", auth.ScopeSessionsRead))
	require.Empty(t, decode[HistoryResponse](t, rr).Items)
}

func TestHistoryPaging(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())
	writer := claimsFor("user-1", auth.ScopeSessionsWrite)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/v1/sessions/start", writer).Code)
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/v1/sessions/end", writer).Code)
	}

	first := decode[HistoryResponse](t, do(t, mux, http.MethodGet, "/v1/sessions?limit=2", writer))
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second := decode[HistoryResponse](t, do(t, mux, http.MethodGet, "/v1/sessions?limit=2&cursor="+first.NextCursor, writer))
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)
	require.NotEqual(t, first.Items[1].ID, second.Items[0].ID)
}

type brokenStore struct{ domain.Store }

func (brokenStore) FindActive(context.Context, string) (*domain.WorkSession, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	mux := newTestMux(t, brokenStore{})

	rr := do(t, mux, http.MethodGet, "/v1/sessions/current", claimsFor("user-1", auth.ScopeSessionsRead))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[ErrorResponse](t, rr)
	require.Equal(t, "store_unavailable", body.Type)
	require.False(t, strings.Contains(body.Detail, "connection refused"), "internal details stay in the log")
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())
	rr := do(t, mux, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestEventsStreamOnlyCallerTransitions(t *testing.T) {
	service := domain.NewService(memory.NewStore())
	handler := NewHandler(service, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	reader := claimsFor("user-1", auth.ScopeSessionsRead)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), reader)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/sessions/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = service.Start(ctx, "user-2")
	require.NoError(t, err)
	_, err = service.Start(ctx, "user-1")
	require.NoError(t, err)
	_, err = service.Pause(ctx, "user-1")
	require.NoError(t, err)

	var names []string
	var views []EventView
	scanner := bufio.NewScanner(resp.Body)
	for len(views) < 2 && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var view EventView
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view))
			views = append(views, view)
		}
	}
	require.NoError(t, scanner.Err())

	require.Equal(t, []string{"work_session.started", "work_session.paused"}, names)
	for _, view := range views {
		require.Equal(t, "user-1", view.Session.UserID)
	}
	require.Equal(t, "work_session.paused", views[1].Type)
	require.Equal(t, "paused", views[1].Session.Status)
}

func TestEventsRequireReadScope(t *testing.T) {
	mux := newTestMux(t, memory.NewStore())

	rr := do(t, mux, http.MethodGet, "/v1/sessions/events", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/sessions/events", claimsFor("user-1"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
