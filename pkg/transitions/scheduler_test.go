package transitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestScheduler_RunOnce(t *testing.T) {
	f := setup(t, nil)
	start := f.clock.Now()

	for i := 0; i < 7; i++ {
		f.onboard(t, fmt.Sprintf("tenant-%d", i), 3)
	}
	f.clock.Set(start.AddDate(0, 1, 0).Add(time.Hour))
	f.onboard(t, "fresh", 3)

	scheduler := NewScheduler(f.manager, f.store, quietLogger(), SchedulerConfig{Concurrency: 3, BatchSize: 3})
	stats, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Due)
	assert.Equal(t, 7, stats.Renewed)
	assert.Equal(t, 0, stats.Failed)

	for i := 0; i < 7; i++ {
		state, err := f.store.Load(context.Background(), fmt.Sprintf("tenant-%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(0), state.UsedUnits)
		assert.True(t, state.NextResetAt.After(f.clock.Now()))
	}

	fresh, err := f.store.Load(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(3), fresh.UsedUnits)

	stats, err = scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Due)
}

type failingRenewStore struct {
	subscription.Store
}

func (failingRenewStore) Write(context.Context, *subscription.State, int64) (*subscription.State, error) {
	return nil, errors.New("disk full")
}

func TestScheduler_CountsFailuresAndStops(t *testing.T) {
	f := setup(t, nil)
	start := f.clock.Now()
	for i := 0; i < 4; i++ {
		f.onboard(t, fmt.Sprintf("tenant-%d", i), 0)
	}
	f.clock.Set(start.AddDate(0, 2, 0))

	store := failingRenewStore{f.store}
	manager := NewManager(store, f.catalog, quietLogger(), Config{Now: f.clock.Now})
	scheduler := NewScheduler(manager, store, quietLogger(), SchedulerConfig{BatchSize: 2})

	stats, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due, "a batch without progress ends the run")
	assert.Equal(t, 2, stats.Failed)
}

type listFailStore struct{ subscription.Store }

func (listFailStore) ListDue(context.Context, time.Time, int) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestScheduler_ListFailure(t *testing.T) {
	f := setup(t, nil)
	scheduler := NewScheduler(f.manager, listFailStore{f.store}, quietLogger(), SchedulerConfig{})

	_, err := scheduler.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	f := setup(t, nil)
	scheduler := NewScheduler(f.manager, f.store, quietLogger(), SchedulerConfig{Schedule: "@every 1h"})

	require.NoError(t, scheduler.Start())
	assert.Error(t, scheduler.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, scheduler.Stop(ctx))
	assert.NoError(t, scheduler.Stop(ctx))

	bad := NewScheduler(f.manager, f.store, quietLogger(), SchedulerConfig{Schedule: "not a schedule"})
	assert.Error(t, bad.Start())
}

func TestCronLogger(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	cl := cronLogger{logger: logger}
	cl.Info("wake", "now", "soon")
	assert.Empty(t, buf.String(), "info chatter is debug level")

	cl.Error(errors.New("boom"), "panic", "job", "renewals", "dangling")
	out := buf.String()
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"job":"renewals"`)
	assert.NotContains(t, out, "dangling")
}
