// Package postgres persists work sessions in Postgres with row level security and a
// transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/events"
	"example.com/timeclock/internal/observability"
)

const (
	sessionColumns = `id, user_id, start_time, pause_time, end_time, status, created_at`

	uniqueViolation     = "23505"
	oneActiveConstraint = "work_sessions_one_active_per_user"
)

// Repository provides Postgres-backed persistence for work sessions and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ domain.Store = (*Repository)(nil)

// withUser runs fn in a transaction whose row level security scope is userID.
func (r *Repository) withUser(ctx context.Context, userID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindActive implements domain.Store.
func (r *Repository) FindActive(ctx context.Context, userID string) (*domain.WorkSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM work_sessions
        WHERE user_id=$1 AND status = ANY($2) ORDER BY created_at DESC, id DESC`

	var active []domain.WorkSession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, statusStrings(domain.ActiveStatuses))
		if err != nil {
			return err
		}
		active, err = collectSessions(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return &active[0], nil
	default:
		return nil, &domain.IntegrityError{UserID: userID, Count: len(active)}
	}
}

// Insert stores a new session and its started event inside a single transaction.
func (r *Repository) Insert(ctx context.Context, session domain.WorkSession) (*domain.WorkSession, error) {
	if session.Status == "" {
		session.Status = domain.StatusWorking
	}
	session.ID = uuid.NewString()

	const stmt = `INSERT INTO work_sessions (id, user_id, start_time, pause_time, end_time, status)
        VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`

	err := r.withUser(ctx, session.UserID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, stmt,
			session.ID,
			session.UserID,
			session.StartTime,
			session.PauseTime,
			session.EndTime,
			session.Status,
		)
		if err := row.Scan(&session.CreatedAt); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, session, domain.EventTypeFor(domain.ActionStart))
	})
	if err != nil {
		return nil, mapError(err)
	}

	observability.RecordSessionPersisted(session.CreatedAt)
	return &session, nil
}

// Update locks the row, checks the patch precondition and applies it.
func (r *Repository) Update(ctx context.Context, userID, id string, patch domain.Patch) (*domain.WorkSession, error) {
	const lock = `SELECT ` + sessionColumns + ` FROM work_sessions WHERE id=$1 AND user_id=$2 FOR UPDATE`

	var updated domain.WorkSession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		current, err := scanSession(tx.QueryRow(ctx, lock, id, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if current.Status == domain.StatusFinished || !patch.Allows(current.Status) {
			return domain.ErrConflict
		}

		query, args := updateStatement(id, userID, patch)
		updated, err = scanSession(tx.QueryRow(ctx, query, args...))
		if err != nil {
			return err
		}

		if eventType, ok := transitionEvent(current.Status, updated.Status); ok {
			return r.insertOutbox(ctx, tx, updated, eventType)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	observability.RecordSessionPersisted(time.Now())
	return &updated, nil
}

// Get retrieves a session by ID, returning nil when the user has no such session.
func (r *Repository) Get(ctx context.Context, userID, id string) (*domain.WorkSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM work_sessions WHERE user_id=$1 AND id=$2`

	var found *domain.WorkSession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		session, err := scanSession(tx.QueryRow(ctx, query, userID, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListHistory returns sessions for a user ordered by creation time, newest first.
func (r *Repository) ListHistory(ctx context.Context, userID string, page domain.Page) ([]domain.WorkSession, *domain.Cursor, error) {
	args := []any{userID}
	query := `SELECT ` + sessionColumns + ` FROM work_sessions WHERE user_id=$1`

	if page.Cursor != nil {
		args = append(args, page.Cursor.CreatedAt, page.Cursor.ID)
		query += ` AND (created_at, id) < ($2, $3)`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if page.Limit > 0 {
		// One extra row tells us whether another page exists.
		args = append(args, page.Limit+1)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var results []domain.WorkSession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		results, err = collectSessions(rows)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if page.Limit > 0 && len(results) > page.Limit {
		results = results[:page.Limit]
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func updateStatement(id, userID string, patch domain.Patch) (string, []any) {
	args := []any{id, userID}
	var sets []string

	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if patch.PauseTime != nil {
		args = append(args, *patch.PauseTime)
		sets = append(sets, fmt.Sprintf("pause_time=$%d", len(args)))
	} else if patch.ClearPauseTime {
		sets = append(sets, "pause_time=NULL")
	}
	if patch.EndTime != nil {
		args = append(args, *patch.EndTime)
		sets = append(sets, fmt.Sprintf("end_time=$%d", len(args)))
	}
	if len(sets) == 0 {
		sets = append(sets, "status=status")
	}

	query := `UPDATE work_sessions SET ` + strings.Join(sets, ", ") +
		` WHERE id=$1 AND user_id=$2 RETURNING ` + sessionColumns
	return query, args
}

// transitionEvent names the event for a committed status change.
func transitionEvent(from, to domain.Status) (domain.EventType, bool) {
	switch {
	case from == to:
		return "", false
	case to == domain.StatusPaused:
		return domain.EventTypeFor(domain.ActionPause), true
	case to == domain.StatusWorking:
		return domain.EventTypeFor(domain.ActionResume), true
	case to == domain.StatusFinished:
		return domain.EventTypeFor(domain.ActionEnd), true
	}
	return "", false
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, session domain.WorkSession, eventType domain.EventType) error {
	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	occurredAt := time.Now().UTC()
	body, err := json.Marshal(events.WorkSessionChanged{
		SessionID:  session.ID,
		UserID:     session.UserID,
		EventType:  string(eventType),
		Status:     string(session.Status),
		StartTime:  session.StartTime,
		PauseTime:  session.PauseTime,
		EndTime:    session.EndTime,
		OccurredAt: occurredAt,
		Version:    "v1",
	})
	if err != nil {
		return err
	}

	// Pause and resume can repeat for one session, so the timestamp is part of the key.
	dedupeKey := fmt.Sprintf("%s:%s:%d", session.ID, eventType, occurredAt.UnixNano())

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		session.UserID,
		"work_session",
		session.ID,
		string(eventType),
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(session),
		body,
		dedupeKey,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.WorkSession, error) {
	var s domain.WorkSession
	err := row.Scan(&s.ID, &s.UserID, &s.StartTime, &s.PauseTime, &s.EndTime, &s.Status, &s.CreatedAt)
	if err != nil {
		return domain.WorkSession{}, err
	}
	s.StartTime = s.StartTime.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.PauseTime = utcPtr(s.PauseTime)
	s.EndTime = utcPtr(s.EndTime)
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]domain.WorkSession, error) {
	defer rows.Close()
	var out []domain.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := ts.UTC()
	return &v
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// mapError translates the partial unique index violation into the domain conflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == oneActiveConstraint {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	}
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.WorkSession) string
}

func byUser(s domain.WorkSession) string { return s.UserID }

var eventCatalog = map[domain.EventType]EventMetadata{
	domain.EventStarted: {Topic: events.WorkSessionTopic, SchemaSubject: events.WorkSessionTopic + "-value", PartitionKeyFn: byUser},
	domain.EventPaused:  {Topic: events.WorkSessionTopic, SchemaSubject: events.WorkSessionTopic + "-value", PartitionKeyFn: byUser},
	domain.EventResumed: {Topic: events.WorkSessionTopic, SchemaSubject: events.WorkSessionTopic + "-value", PartitionKeyFn: byUser},
	domain.EventEnded:   {Topic: events.WorkSessionTopic, SchemaSubject: events.WorkSessionTopic + "-value", PartitionKeyFn: byUser},
}
