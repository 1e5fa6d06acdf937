// Package storetest holds the behavioural contract every domain.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/timeclock/internal/domain"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.Store

// Run executes the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertRoundTrip", func(t *testing.T) { testInsertRoundTrip(t, newStore(t)) })
	t.Run("InsertRejectsSecondActive", func(t *testing.T) { testInsertRejectsSecondActive(t, newStore(t)) })
	t.Run("FindActiveLifecycle", func(t *testing.T) { testFindActiveLifecycle(t, newStore(t)) })
	t.Run("UpdateAppliesPatch", func(t *testing.T) { testUpdateAppliesPatch(t, newStore(t)) })
	t.Run("UpdateMissingSession", func(t *testing.T) { testUpdateMissingSession(t, newStore(t)) })
	t.Run("GetMissingSession", func(t *testing.T) { testGetMissingSession(t, newStore(t)) })
	t.Run("UpdatePrecondition", func(t *testing.T) { testUpdatePrecondition(t, newStore(t)) })
	t.Run("FinishedIsImmutable", func(t *testing.T) { testFinishedIsImmutable(t, newStore(t)) })
	t.Run("RowLevelIsolation", func(t *testing.T) { testRowLevelIsolation(t, newStore(t)) })
	t.Run("HistoryOrdering", func(t *testing.T) { testHistoryOrdering(t, newStore(t)) })
	t.Run("HistoryPaging", func(t *testing.T) { testHistoryPaging(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
}

func testInsertRoundTrip(t *testing.T, store domain.Store) {
	ctx := context.Background()
	start := baseTime()
	input := domain.WorkSession{UserID: uuid.NewString(), StartTime: start, Status: domain.StatusWorking}

	created, err := store.Insert(ctx, input)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	stored, err := store.Get(ctx, input.UserID, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, created.ID, stored.ID)
	require.Equal(t, input.UserID, stored.UserID)
	require.True(t, input.StartTime.Equal(stored.StartTime), "start_time %s != %s", input.StartTime, stored.StartTime)
	require.Equal(t, domain.StatusWorking, stored.Status)
	require.Nil(t, stored.PauseTime)
	require.Nil(t, stored.EndTime)
	require.True(t, created.CreatedAt.Equal(stored.CreatedAt))
}

func testInsertRejectsSecondActive(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := store.Insert(ctx, working(userID, baseTime()))
	require.NoError(t, err)

	_, err = store.Insert(ctx, working(userID, baseTime().Add(time.Minute)))
	require.ErrorIs(t, err, domain.ErrConflict)

	history, _, err := store.ListHistory(ctx, userID, domain.Page{})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func testFindActiveLifecycle(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()

	active, err := store.FindActive(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, active)

	created, err := store.Insert(ctx, working(userID, baseTime()))
	require.NoError(t, err)

	active, err = store.FindActive(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, created.ID, active.ID)

	end := baseTime().Add(time.Hour)
	finished := domain.StatusFinished
	_, err = store.Update(ctx, userID, created.ID, domain.Patch{
		From:    domain.ActiveStatuses,
		Status:  &finished,
		EndTime: &end,
	})
	require.NoError(t, err)

	active, err = store.FindActive(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, active)

	_, err = store.Insert(ctx, working(userID, end.Add(time.Minute)))
	require.NoError(t, err, "a finished session frees the active slot")
}

func testUpdateAppliesPatch(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	created, err := store.Insert(ctx, working(userID, baseTime()))
	require.NoError(t, err)

	pauseAt := baseTime().Add(10 * time.Minute)
	paused := domain.StatusPaused
	updated, err := store.Update(ctx, userID, created.ID, domain.Patch{
		From:      []domain.Status{domain.StatusWorking},
		Status:    &paused,
		PauseTime: &pauseAt,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaused, updated.Status)
	require.NotNil(t, updated.PauseTime)
	require.True(t, pauseAt.Equal(*updated.PauseTime))
	require.True(t, created.StartTime.Equal(updated.StartTime))

	workingStatus := domain.StatusWorking
	resumed, err := store.Update(ctx, userID, created.ID, domain.Patch{
		From:   []domain.Status{domain.StatusPaused},
		Status: &workingStatus,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, resumed.Status)
	require.NotNil(t, resumed.PauseTime, "pause_time is kept unless cleared explicitly")

	cleared, err := store.Update(ctx, userID, created.ID, domain.Patch{
		From:           []domain.Status{domain.StatusWorking},
		ClearPauseTime: true,
	})
	require.NoError(t, err)
	require.Nil(t, cleared.PauseTime)
}

func testUpdateMissingSession(t *testing.T, store domain.Store) {
	paused := domain.StatusPaused
	_, err := store.Update(context.Background(), uuid.NewString(), uuid.NewString(), domain.Patch{Status: &paused})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdatePrecondition(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	created, err := store.Insert(ctx, working(userID, baseTime()))
	require.NoError(t, err)

	workingStatus := domain.StatusWorking
	_, err = store.Update(ctx, userID, created.ID, domain.Patch{
		From:   []domain.Status{domain.StatusPaused},
		Status: &workingStatus,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.False(t, errors.Is(err, domain.ErrNotFound))

	stored, err := store.Get(ctx, userID, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, stored.Status)
}

func testFinishedIsImmutable(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	created, err := store.Insert(ctx, working(userID, baseTime()))
	require.NoError(t, err)

	end := baseTime().Add(time.Hour)
	finished := domain.StatusFinished
	_, err = store.Update(ctx, userID, created.ID, domain.Patch{Status: &finished, EndTime: &end})
	require.NoError(t, err)

	later := end.Add(time.Hour)
	_, err = store.Update(ctx, userID, created.ID, domain.Patch{EndTime: &later})
	require.ErrorIs(t, err, domain.ErrConflict)

	stored, err := store.Get(ctx, userID, created.ID)
	require.NoError(t, err)
	require.True(t, end.Equal(*stored.EndTime))
}

func testGetMissingSession(t *testing.T, store domain.Store) {
	ctx := context.Background()
	got, err := store.Get(ctx, uuid.NewString(), uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, got)
}

func testRowLevelIsolation(t *testing.T, store domain.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	intruder := uuid.NewString()
	created, err := store.Insert(ctx, working(owner, baseTime()))
	require.NoError(t, err)

	got, err := store.Get(ctx, intruder, created.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	active, err := store.FindActive(ctx, intruder)
	require.NoError(t, err)
	require.Nil(t, active)

	history, _, err := store.ListHistory(ctx, intruder, domain.Page{})
	require.NoError(t, err)
	require.Empty(t, history)

	finished := domain.StatusFinished
	end := baseTime().Add(time.Hour)
	_, err = store.Update(ctx, intruder, created.ID, domain.Patch{Status: &finished, EndTime: &end})
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := store.Get(ctx, owner, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, stored.Status)
}

func testHistoryOrdering(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	ids := createFinished(t, store, userID, 3)

	_, err := store.Insert(ctx, working(userID, baseTime().Add(24*time.Hour)))
	require.NoError(t, err)

	history, next, err := store.ListHistory(ctx, userID, domain.Page{})
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, history, 4)
	require.Equal(t, domain.StatusWorking, history[0].Status)
	require.Equal(t, ids[2], history[1].ID)
	require.Equal(t, ids[1], history[2].ID)
	require.Equal(t, ids[0], history[3].ID)
	for i := 1; i < len(history); i++ {
		require.False(t, history[i].CreatedAt.After(history[i-1].CreatedAt), "history must be created_at descending")
	}
	require.Equal(t, domain.StatusFinished, history[1].Status)
	require.NotNil(t, history[1].EndTime)
}

func testHistoryPaging(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	ids := createFinished(t, store, userID, 5)

	first, next, err := store.ListHistory(ctx, userID, domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, next)
	require.Equal(t, ids[4], first[0].ID)
	require.Equal(t, ids[3], first[1].ID)

	second, next, err := store.ListHistory(ctx, userID, domain.Page{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, ids[2], second[0].ID)
	require.Equal(t, ids[1], second[1].ID)

	third, next, err := store.ListHistory(ctx, userID, domain.Page{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, third, 1)
	require.Nil(t, next)
	require.Equal(t, ids[0], third[0].ID)
}

func testConcurrentInsert(t *testing.T, store domain.Store) {
	ctx := context.Background()
	userID := uuid.NewString()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(ctx, working(userID, baseTime()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, conflicts)

	active, err := store.FindActive(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
}

// createFinished inserts and finishes n sessions in order and returns their IDs oldest first.
func createFinished(t *testing.T, store domain.Store, userID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	finished := domain.StatusFinished
	for i := 0; i < n; i++ {
		start := baseTime().Add(time.Duration(i) * time.Hour)
		created, err := store.Insert(ctx, working(userID, start))
		require.NoError(t, err)
		end := start.Add(30 * time.Minute)
		_, err = store.Update(ctx, userID, created.ID, domain.Patch{
			From:    domain.ActiveStatuses,
			Status:  &finished,
			EndTime: &end,
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	return ids
}

func working(userID string, start time.Time) domain.WorkSession {
	return domain.WorkSession{UserID: userID, StartTime: start, Status: domain.StatusWorking}
}

func baseTime() time.Time {
	return time.Date(2025, time.June, 2, 8, 30, 0, 0, time.UTC)
}
