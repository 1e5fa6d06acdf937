// Package api exposes HTTP handlers for the work session service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/timeclock/internal/auth"
	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/persistence"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	eventBuffer         = 16
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sessions/current", h.current)
	mux.HandleFunc("POST /v1/sessions/start", h.transition(http.StatusCreated, h.service.Start))
	mux.HandleFunc("POST /v1/sessions/pause", h.transition(http.StatusOK, h.service.Pause))
	mux.HandleFunc("POST /v1/sessions/resume", h.transition(http.StatusOK, h.service.Resume))
	mux.HandleFunc("POST /v1/sessions/end", h.transition(http.StatusOK, h.service.End))
	mux.HandleFunc("GET /v1/sessions", h.history)
	mux.HandleFunc("GET /v1/sessions/events", h.events)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type transitionFunc func(ctx context.Context, userID string) (*domain.WorkSession, error)

func (h *Handler) transition(success int, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}
		if !claims.CanWrite() {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeSessionsWrite+" required")
			return
		}

		session, err := fn(r.Context(), claims.Subject)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, success, toSessionView(*session))
	}
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireReader(w, r)
	if !ok {
		return
	}

	session, err := h.service.Current(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := CurrentResponse{}
	if session != nil {
		view := toSessionView(*session)
		resp.Session = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireReader(w, r)
	if !ok {
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing session id")
		return
	}

	session, err := h.service.Get(r.Context(), claims.Subject, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(*session))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireReader(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	sessions, next, err := h.service.History(r.Context(), claims.Subject, domain.Page{Cursor: cursor, Limit: limit})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionView(s))
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// events streams the caller's committed transitions as server-sent events until the client goes away.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireReader(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	changes := h.service.Subscribe(eventBuffer)
	defer h.service.Unsubscribe(changes)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Printf("%s %s: streaming unsupported: %v", r.Method, r.URL.Path, err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-changes:
			if !open {
				return
			}
			if event.Session.UserID != claims.Subject {
				continue
			}
			payload, err := json.Marshal(toEventView(event))
			if err != nil {
				h.logger.Printf("encode session event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return claims, true
}

func requireReader(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return nil, false
	}
	if !claims.CanRead() {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeSessionsRead+" required")
		return nil, false
	}
	return claims, true
}

// writeDomainError maps service errors onto the API error vocabulary.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no_active_session", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "work session not found")
	case errors.Is(err, domain.ErrPersistence):
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "session store unavailable")
	default:
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
