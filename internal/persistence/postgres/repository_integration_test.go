//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/events"
	"example.com/timeclock/internal/persistence/storetest"
)

func TestRepositoryContract(t *testing.T) {
	pool := startPostgres(t)

	storetest.Run(t, func(t *testing.T) domain.Store {
		_, err := pool.Exec(context.Background(), `TRUNCATE work_sessions, outbox`)
		require.NoError(t, err)
		return NewRepository(pool)
	})
}

func TestTransitionsWriteOutboxEvents(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	start := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	created, err := repo.Insert(ctx, domain.WorkSession{UserID: userID, StartTime: start, Status: domain.StatusWorking})
	require.NoError(t, err)

	paused := domain.StatusPaused
	pauseAt := start.Add(time.Hour)
	_, err = repo.Update(ctx, userID, created.ID, domain.Patch{
		From:      []domain.Status{domain.StatusWorking},
		Status:    &paused,
		PauseTime: &pauseAt,
	})
	require.NoError(t, err)

	rows, err := pool.Query(ctx, `SELECT event_type, topic, partition_key FROM outbox WHERE aggregate_id=$1 ORDER BY event_id`, created.ID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var eventType, topic, key string
		require.NoError(t, rows.Scan(&eventType, &topic, &key))
		require.Equal(t, events.WorkSessionTopic, topic)
		require.Equal(t, userID, key)
		types = append(types, eventType)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{string(domain.EventStarted), string(domain.EventPaused)}, types)
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := startPostgres(t)
	require.NoError(t, Migrate(context.Background(), pool))
}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

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

	require.NoError(t, Migrate(ctx, pool))
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
