package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contractOptions struct {
	// clockDriven stores honour the now argument for expiry; TTL-based stores do not.
	clockDriven bool
}

// runQuotaStoreContract exercises the behaviour every QuotaStore must share.
func runQuotaStoreContract(t *testing.T, newStore func(t *testing.T) QuotaStore, opts contractOptions) {
	t.Helper()
	ctx := context.Background()
	window := 24 * time.Hour
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("admits exactly limit requests per window", func(t *testing.T) {
		store := newStore(t)
		const limit = 3

		for i := 1; i <= limit; i++ {
			rec, allowed, err := store.Increment(ctx, "id-a", limit, window, start.Add(time.Duration(i)*time.Minute))
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be admitted", i)
			assert.Equal(t, i, rec.Count)
		}

		rec, allowed, err := store.Increment(ctx, "id-a", limit, window, start.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, limit, rec.Count)

		// the denied call must not have moved the counter
		peek, found, err := store.Peek(ctx, "id-a", start.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, limit, peek.Count)
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		store := newStore(t)

		_, allowed, err := store.Increment(ctx, "id-b", 1, window, start)
		require.NoError(t, err)
		require.True(t, allowed)

		_, allowed, err = store.Increment(ctx, "id-c", 1, window, start)
		require.NoError(t, err)
		assert.True(t, allowed)

		_, allowed, err = store.Increment(ctx, "id-b", 1, window, start)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("peek on unknown identifier", func(t *testing.T) {
		store := newStore(t)
		_, found, err := store.Peek(ctx, "nobody", start)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("concurrent callers never exceed the limit", func(t *testing.T) {
		store := newStore(t)
		const limit = 5
		var admitted atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, allowed, err := store.Increment(ctx, "id-hot", limit, window, start)
				if err == nil && allowed {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), admitted.Load())
	})

	if !opts.clockDriven {
		return
	}

	t.Run("elapsed window starts fresh", func(t *testing.T) {
		store := newStore(t)
		const limit = 2

		for i := 0; i < limit; i++ {
			_, allowed, err := store.Increment(ctx, "id-d", limit, window, start)
			require.NoError(t, err)
			require.True(t, allowed)
		}
		_, allowed, err := store.Increment(ctx, "id-d", limit, window, start.Add(window))
		require.NoError(t, err)
		require.False(t, allowed, "window is still live at exactly reset time")

		later := start.Add(window + time.Second)
		_, found, err := store.Peek(ctx, "id-d", later)
		require.NoError(t, err)
		assert.False(t, found, "expired record reads as absent")

		rec, allowed, err := store.Increment(ctx, "id-d", limit, window, later)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, rec.Count)
		assert.True(t, rec.ResetAt.Equal(later.Add(window)), fmt.Sprintf("reset at %s", rec.ResetAt))
	})
}
