//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/timeclock/internal/events"
	"example.com/timeclock/internal/persistence/postgres"
)

func TestPresenceHandlerKeepsLatestStatus(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	handler := NewPresenceHandler(pool)
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	started := presenceMessage(t, 1, "work_session.started", "working", start)
	paused := presenceMessage(t, 2, "work_session.paused", "paused", start.Add(time.Hour))

	require.NoError(t, handler.Handle(ctx, started))
	require.NoError(t, handler.Handle(ctx, paused))
	require.NoError(t, handler.Handle(ctx, started), "a redelivered older event is ignored")

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM work_session_presence`).Scan(&count))
	require.Equal(t, 1, count)

	var status string
	var offset int64
	err := pool.QueryRow(ctx, `SELECT status, record_offset FROM work_session_presence WHERE user_id = $1`, "user-1").Scan(&status, &offset)
	require.NoError(t, err)
	require.Equal(t, "paused", status)
	require.Equal(t, int64(2), offset)
}

func presenceMessage(t *testing.T, offset int64, eventType, status string, at time.Time) Message {
	t.Helper()
	event := events.WorkSessionChanged{
		SessionID:  "session-1",
		UserID:     "user-1",
		EventType:  eventType,
		Status:     status,
		StartTime:  time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
		OccurredAt: at,
		Version:    "v1",
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return Message{
		Topic:         events.WorkSessionTopic,
		Partition:     0,
		Offset:        offset,
		Timestamp:     at,
		EventType:     eventType,
		UserID:        event.UserID,
		SchemaSubject: events.WorkSessionTopic + "-value",
		SchemaID:      42,
		Event:         event,
		Payload:       payload,
	}
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("timeclock"),
		postgrescontainer.WithUsername("timeclock"),
		postgrescontainer.WithPassword("timeclock"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pg) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
