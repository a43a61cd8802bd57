package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatekeeper/pkg/plans"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.IncrementUsage(ctx, "t1", 1, 1, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestState_Status(t *testing.T) {
	catalog := plans.MustDefaultCatalog()
	now := time.Now()

	free := NewState("t1", catalog.Default(), now)
	assert.Equal(t, StatusFree, free.Status(catalog))

	paid := NewState("t2", catalog.UpgradeTarget(), now)
	assert.Equal(t, StatusPaid, paid.Status(catalog))

	paid.Active = false
	assert.Equal(t, StatusInactive, paid.Status(catalog))

	unknown := &State{TenantID: "t3", Plan: "Enterprise", Active: true}
	assert.Equal(t, StatusInactive, unknown.Status(catalog))

	var missing *State
	assert.Equal(t, StatusInactive, missing.Status(catalog))
}

func TestState_RenewalDue(t *testing.T) {
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	s := NewState("t1", plans.MustDefaultCatalog().Default(), now)

	assert.False(t, s.RenewalDue(s.NextResetAt.Add(-time.Nanosecond)))
	assert.True(t, s.RenewalDue(s.NextResetAt))
	assert.True(t, s.RenewalDue(s.NextResetAt.Add(time.Second)))

	s.UsedUnits = 7
	s.StartCycle(now.Add(time.Hour))
	assert.Equal(t, int64(0), s.UsedUnits)
	assert.Equal(t, now.Add(time.Hour), s.CycleStart)
}
