package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/plans"
)

// runStoreContract exercises the behaviour every Store implementation shares
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	catalog := plans.MustDefaultCatalog()
	free := catalog.Default()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("load missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Load(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create is idempotent", func(t *testing.T) {
		store := newStore(t)

		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, free.Name, created.Plan)

		again := NewState("t1", catalog.UpgradeTarget(), now)
		existing, err := store.Create(ctx, again)
		assert.ErrorIs(t, err, ErrAlreadyExists)
		require.NotNil(t, existing)
		assert.Equal(t, free.Name, existing.Plan)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, free.Name, loaded.Plan)
		assert.True(t, loaded.Active)
		assert.WithinDuration(t, plans.NextCycle(now), loaded.NextResetAt, time.Millisecond)
	})

	t.Run("increment respects ceiling", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		for i := int64(1); i <= 3; i++ {
			used, err := store.IncrementUsage(ctx, "t1", 3, created.Version, "")
			require.NoError(t, err)
			assert.Equal(t, i, used)
		}

		_, err = store.IncrementUsage(ctx, "t1", 3, created.Version, "")
		assert.ErrorIs(t, err, ErrCeilingReached)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), loaded.UsedUnits)

		used, err := store.IncrementUsage(ctx, "t1", NoCeiling, created.Version, "")
		require.NoError(t, err)
		assert.Equal(t, int64(4), used)
	})

	t.Run("increment fenced by version", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		_, err = store.IncrementUsage(ctx, "t1", 10, created.Version+1, "")
		assert.ErrorIs(t, err, ErrVersionConflict)

		_, err = store.IncrementUsage(ctx, "missing", 10, 1, "")
		assert.ErrorIs(t, err, ErrNotFound)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), loaded.UsedUnits)
	})

	t.Run("decrement consumes a reservation once", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		_, err = store.IncrementUsage(ctx, "t1", 10, created.Version, "r1")
		require.NoError(t, err)
		_, err = store.IncrementUsage(ctx, "t1", 10, created.Version, "")
		require.NoError(t, err)

		used, err := store.DecrementUsage(ctx, "t1", created.Version, "r1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), used)

		_, err = store.DecrementUsage(ctx, "t1", created.Version, "r1")
		assert.ErrorIs(t, err, ErrReservationNotFound)
		_, err = store.DecrementUsage(ctx, "t1", created.Version, "never-issued")
		assert.ErrorIs(t, err, ErrReservationNotFound)
		_, err = store.DecrementUsage(ctx, "t1", created.Version, "")
		assert.ErrorIs(t, err, ErrReservationNotFound)

		_, err = store.DecrementUsage(ctx, "t1", created.Version+5, "r1")
		assert.ErrorIs(t, err, ErrVersionConflict)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.UsedUnits)
	})

	t.Run("write discards outstanding reservations", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		_, err = store.IncrementUsage(ctx, "t1", 10, created.Version, "r1")
		require.NoError(t, err)

		next := created.Clone()
		next.StartCycle(now.Add(time.Hour))
		written, err := store.Write(ctx, next, created.Version)
		require.NoError(t, err)

		_, err = store.DecrementUsage(ctx, "t1", written.Version, "r1")
		assert.ErrorIs(t, err, ErrReservationNotFound)
	})

	t.Run("write is compare and swap", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		next := created.Clone()
		next.Plan = catalog.UpgradeTarget().Name
		next.StartCycle(now.Add(time.Hour))

		written, err := store.Write(ctx, next, created.Version)
		require.NoError(t, err)
		assert.Equal(t, created.Version+1, written.Version)

		stale := created.Clone()
		stale.Plan = free.Name
		_, err = store.Write(ctx, stale, created.Version)
		assert.ErrorIs(t, err, ErrVersionConflict)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, catalog.UpgradeTarget().Name, loaded.Plan)
		assert.Equal(t, written.Version, loaded.Version)

		// Increments read under the old version are fenced off.
		_, err = store.IncrementUsage(ctx, "t1", NoCeiling, created.Version, "")
		assert.ErrorIs(t, err, ErrVersionConflict)

		missing := NewState("ghost", free, now)
		_, err = store.Write(ctx, missing, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list due", func(t *testing.T) {
		store := newStore(t)

		early, err := store.Create(ctx, NewState("early", free, now.AddDate(0, -2, 0)))
		require.NoError(t, err)
		_, err = store.Create(ctx, NewState("due", free, now.AddDate(0, -1, 0).Add(-time.Hour)))
		require.NoError(t, err)
		_, err = store.Create(ctx, NewState("future", free, now))
		require.NoError(t, err)
		lapsed, err := store.Create(ctx, NewState("lapsed", free, now.AddDate(0, -3, 0)))
		require.NoError(t, err)

		lapsed.Active = false
		_, err = store.Write(ctx, lapsed, lapsed.Version)
		require.NoError(t, err)

		due, err := store.ListDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "due"}, due)

		due, err = store.ListDue(ctx, now, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{early.TenantID}, due)
	})

	t.Run("concurrent increments never exceed ceiling", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewState("t1", free, now))
		require.NoError(t, err)

		const ceiling = 10
		var ok, rejected int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.IncrementUsage(ctx, "t1", ceiling, created.Version, "")
				switch {
				case err == nil:
					atomic.AddInt64(&ok, 1)
				case assert.ErrorIs(t, err, ErrCeilingReached):
					atomic.AddInt64(&rejected, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(ceiling), ok)
		assert.Equal(t, int64(40), rejected)

		loaded, err := store.Load(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(ceiling), loaded.UsedUnits)
	})
}
