package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"statement-converter/pkg/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteStore(t *testing.T) *SQLiteQuotaStore {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "usage.db"), zap.NewNop())
	require.NoError(t, err)

	store := NewSQLiteQuotaStore(db, zap.NewNop())
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteQuotaStoreContract(t *testing.T) {
	runQuotaStoreContract(t, func(t *testing.T) QuotaStore {
		return newSQLiteStore(t)
	}, contractOptions{clockDriven: true})
}

func TestSQLiteQuotaStoreMigrateIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	assert.NoError(t, store.Migrate(context.Background()))
}

func TestSQLiteQuotaStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := store.Increment(ctx, "short", 3, time.Minute, start)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "long", 3, time.Hour, start)
	require.NoError(t, err)

	n, err := store.DeleteExpired(ctx, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, found, err := store.Peek(ctx, "long", start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLiteQuotaStoreClosedFailsWithStoreUnavailable(t *testing.T) {
	store := newSQLiteStore(t)
	require.NoError(t, store.Close())

	_, _, err := store.Increment(context.Background(), "id", 3, time.Hour, time.Now())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
