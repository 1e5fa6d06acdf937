package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/timeclock/internal/domain"
	"example.com/timeclock/internal/persistence/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return NewStore()
	})
}

func TestFindActiveDetectsDuplicateActiveSessions(t *testing.T) {
	store := NewStore()
	store.Seed(domain.WorkSession{UserID: "user-1", Status: domain.StatusWorking})
	store.Seed(domain.WorkSession{UserID: "user-1", Status: domain.StatusPaused})

	active, err := store.FindActive(context.Background(), "user-1")
	require.Nil(t, active)
	require.ErrorIs(t, err, domain.ErrConflict)

	var integrity *domain.IntegrityError
	require.ErrorAs(t, err, &integrity)
	require.Equal(t, 2, integrity.Count)
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created, err := store.Insert(ctx, domain.WorkSession{UserID: "user-1", Status: domain.StatusWorking})
	require.NoError(t, err)

	created.Status = domain.StatusFinished

	stored, err := store.Get(ctx, "user-1", created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWorking, stored.Status)
}
