// Package sqlite provides a SQLite-backed work session store for single-user deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/persistence/sqlite/migrations"
)

const sessionColumns = `id, user_id, start_time, pause_time, end_time, status, created_at`

// Store persists work sessions in SQLite.
type Store struct {
	sqlDB *sql.DB

	mu       sync.Mutex
	lastTime time.Time
}

var _ domain.Store = (*Store)(nil)

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer keeps the read-check-write sequences serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// FindActive implements domain.Store.
func (s *Store) FindActive(ctx context.Context, userID string) (*domain.WorkSession, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions
        WHERE user_id = ? AND status IN ('working', 'paused')
        ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	active, err := collectSessions(rows)
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
	session.ID = uuid.NewString()
	session.CreatedAt = s.nextCreatedAt()

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO work_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		toMicros(session.StartTime),
		nullableMicros(session.PauseTime),
		nullableMicros(session.EndTime),
		string(session.Status),
		toMicros(session.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert work session: %w", err)
	}
	session.StartTime = fromMicros(toMicros(session.StartTime))
	return &session, nil
}

// Update implements domain.Store.
func (s *Store) Update(ctx context.Context, userID, id string, patch domain.Patch) (*domain.WorkSession, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if current.Status == domain.StatusFinished || !patch.Allows(current.Status) {
		return nil, domain.ErrConflict
	}

	next := patch.Apply(current)
	// The status guard makes the write a compare-and-swap even without the single connection.
	res, err := tx.ExecContext(ctx,
		`UPDATE work_sessions SET status = ?, pause_time = ?, end_time = ?
        WHERE id = ? AND user_id = ? AND status = ?`,
		string(next.Status),
		nullableMicros(next.PauseTime),
		nullableMicros(next.EndTime),
		id, userID, string(current.Status),
	)
	if err != nil {
		if isConstraintError(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("update work session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, domain.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	next.PauseTime = roundMicros(next.PauseTime)
	next.EndTime = roundMicros(next.EndTime)
	return &next, nil
}

// Get implements domain.Store.
func (s *Store) Get(ctx context.Context, userID, id string) (*domain.WorkSession, error) {
	session, err := scanSession(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE user_id = ? AND id = ?`, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// ListHistory implements domain.Store.
func (s *Store) ListHistory(ctx context.Context, userID string, page domain.Page) ([]domain.WorkSession, *domain.Cursor, error) {
	args := []any{userID}
	query := `SELECT ` + sessionColumns + ` FROM work_sessions WHERE user_id = ?`
	if page.Cursor != nil {
		created := toMicros(page.Cursor.CreatedAt)
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, created, created, page.Cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if page.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, page.Limit+1)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := collectSessions(rows)
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

func (s *Store) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = now
	return now
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.WorkSession, error) {
	var (
		session            domain.WorkSession
		status             string
		start, created     int64
		pauseTime, endTime sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.UserID, &start, &pauseTime, &endTime, &status, &created); err != nil {
		return domain.WorkSession{}, err
	}
	session.Status = domain.Status(status)
	session.StartTime = fromMicros(start)
	session.CreatedAt = fromMicros(created)
	session.PauseTime = fromNullMicros(pauseTime)
	session.EndTime = fromNullMicros(endTime)
	return session, nil
}

func collectSessions(rows *sql.Rows) ([]domain.WorkSession, error) {
	defer rows.Close()
	var out []domain.WorkSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

func nullableMicros(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*value), Valid: true}
}

func fromNullMicros(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := fromMicros(value.Int64)
	return &ts
}

func roundMicros(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	ts := fromMicros(toMicros(*value))
	return &ts
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
