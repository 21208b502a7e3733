package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	record := Record{
		ID:            "req-1",
		SignerID:      "signer-1",
		SignerAddress: "0xabc",
		ToAddress:     "0xdef",
		ValueWei:      "1000000000000000000",
		ChainID:       1,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	require.NoError(t, store.UpdateStatus(ctx, "req-1", StatusCompleted, nil, "", "0xtxhash"))
	got, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "0xtxhash", got.TxHash)
}

func TestUpdateStatusMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	err := store.UpdateStatus(ctx, "does-not-exist", StatusFailed, nil, "boom", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRollingSpendSumsOnlyCompletedSinceWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, Record{ID: "a", SignerID: "s1", ValueWei: "100", Status: StatusCompleted, CreatedAt: now}))
	require.NoError(t, store.Insert(ctx, Record{ID: "b", SignerID: "s1", ValueWei: "250", Status: StatusCompleted, CreatedAt: now}))
	require.NoError(t, store.Insert(ctx, Record{ID: "c", SignerID: "s1", ValueWei: "999", Status: StatusBlocked, CreatedAt: now}))
	require.NoError(t, store.Insert(ctx, Record{ID: "d", SignerID: "s1", ValueWei: "500", Status: StatusCompleted, CreatedAt: now.Add(-48 * time.Hour)}))

	sum, err := store.RollingSpend(ctx, "s1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "350", sum)
}

func TestRequestCountCountsAllStatuses(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, Record{ID: "a", SignerID: "s1", Status: StatusCompleted, CreatedAt: now}))
	require.NoError(t, store.Insert(ctx, Record{ID: "b", SignerID: "s1", Status: StatusBlocked, CreatedAt: now}))
	require.NoError(t, store.Insert(ctx, Record{ID: "c", SignerID: "s1", Status: StatusCompleted, CreatedAt: now.Add(-2 * time.Hour)}))

	count, err := store.RequestCount(ctx, "s1", now.Add(-1*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
