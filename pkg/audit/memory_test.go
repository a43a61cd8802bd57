package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	event := NewEvent(ctx, EventTypeMembershipGrant, EventStatusSuccess, "salon", "olivia")

	assert.Equal(t, EventTypeMembershipGrant, event.EventType)
	assert.Equal(t, "salon", event.TenantID)
	assert.Equal(t, "olivia", event.ActorID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestSubscriptionEvent(t *testing.T) {
	assert.Equal(t, EventTypeSubscriptionUpgrade, SubscriptionEvent("upgrade"))
	assert.Equal(t, EventTypeSubscriptionReactivate, SubscriptionEvent("reactivate"))
}

func TestMemoryLogger_Search(t *testing.T) {
	ctx := context.Background()
	logger := NewMemoryLogger(0)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []*Event{
		{Timestamp: base, EventType: EventTypeSubscriptionOnboard, TenantID: "salon", ActorID: "pat"},
		{Timestamp: base.Add(time.Minute), EventType: EventTypeMembershipGrant, TenantID: "salon", ActorID: "olivia", TargetID: "sam"},
		{Timestamp: base.Add(2 * time.Minute), EventType: EventTypeMembershipGrant, TenantID: "spa", ActorID: "eve"},
		{Timestamp: base.Add(3 * time.Minute), EventType: EventTypePermissionsUpdate, TenantID: "salon", ActorID: "olivia", TargetID: "sam"},
	}
	for _, e := range events {
		require.NoError(t, logger.Log(ctx, e))
	}
	assert.Equal(t, int64(4), events[3].ID)

	t.Run("tenant scoped newest first", func(t *testing.T) {
		got, err := logger.Search(ctx, SearchFilter{TenantID: "salon"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, EventTypePermissionsUpdate, got[0].EventType)
		assert.Equal(t, EventTypeSubscriptionOnboard, got[2].EventType)
	})

	t.Run("event type and actor", func(t *testing.T) {
		got, err := logger.Search(ctx, SearchFilter{
			TenantID:   "salon",
			EventTypes: []EventType{EventTypeMembershipGrant, EventTypePermissionsUpdate},
			ActorID:    "olivia",
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("time window", func(t *testing.T) {
		start := base.Add(30 * time.Second)
		end := base.Add(90 * time.Second)
		got, err := logger.Search(ctx, SearchFilter{TenantID: "salon", StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "sam", got[0].TargetID)
	})

	t.Run("pagination", func(t *testing.T) {
		got, err := logger.Search(ctx, SearchFilter{TenantID: "salon", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, EventTypeMembershipGrant, got[0].EventType)
	})

	t.Run("tenant required", func(t *testing.T) {
		_, err := logger.Search(ctx, SearchFilter{})
		assert.ErrorIs(t, err, ErrTenantRequired)
	})
}

func TestMemoryLogger_Capacity(t *testing.T) {
	ctx := context.Background()
	logger := NewMemoryLogger(2)

	for _, target := range []string{"a", "b", "c"} {
		require.NoError(t, logger.Log(ctx, &Event{TenantID: "salon", TargetID: target}))
	}

	got, err := logger.Search(ctx, SearchFilter{TenantID: "salon"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].TargetID)
	assert.Equal(t, "b", got[1].TargetID)
}

func TestMemoryLogger_SearchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	logger := NewMemoryLogger(10)
	require.NoError(t, logger.Log(ctx, &Event{TenantID: "salon", Message: "original"}))

	got, err := logger.Search(ctx, SearchFilter{TenantID: "salon"})
	require.NoError(t, err)
	got[0].Message = "changed"

	again, err := logger.Search(ctx, SearchFilter{TenantID: "salon"})
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Message)
}
