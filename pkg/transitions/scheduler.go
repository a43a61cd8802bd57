package transitions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

// SchedulerConfig configures the renewal scheduler
type SchedulerConfig struct {
	// Schedule is a standard five-field cron expression
	Schedule    string
	Concurrency int
	BatchSize   int
	// MaxBatches bounds the batches processed by a single run
	MaxBatches int
}

// DefaultSchedulerConfig returns the scheduler defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Schedule:    "*/5 * * * *",
		Concurrency: 8,
		BatchSize:   500,
		MaxBatches:  20,
	}
}

// RunStats summarizes one renewal pass
type RunStats struct {
	Due     int
	Renewed int
	Failed  int
}

// Scheduler periodically renews tenants whose cycle has ended. Quota checks
// also renew lazily, so a missed run delays nothing a tenant can observe.
type Scheduler struct {
	manager *Manager
	store   subscription.Store
	config  SchedulerConfig
	logger  *logrus.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a renewal scheduler
func NewScheduler(manager *Manager, store subscription.Store, logger *logrus.Logger, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = defaults.MaxBatches
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		manager: manager,
		store:   store,
		config:  config,
		logger:  logger,
		now:     manager.now,
	}
}

// Start registers the renewal job and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(s.config.Schedule, func() {
		stats, err := s.RunOnce(context.Background())
		if err != nil {
			s.logger.WithError(err).Error("Renewal run failed")
			return
		}
		if stats.Due > 0 {
			s.logger.WithFields(logrus.Fields{
				"due":     stats.Due,
				"renewed": stats.Renewed,
				"failed":  stats.Failed,
			}).Info("Renewal run completed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule renewals: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.WithField("schedule", s.config.Schedule).Info("Renewal scheduler started")
	return nil
}

// Stop stops the cron runner and waits for a running job until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logrus to the cron runner. Routine scheduling chatter is
// logged at debug.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(cronFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(cronFields(keysAndValues)).Error(msg)
}

func cronFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// RunOnce renews every due tenant, in batches, with bounded parallelism.
// Individual renewal failures are counted and logged, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	for batch := 0; batch < s.config.MaxBatches; batch++ {
		due, err := s.store.ListDue(ctx, s.now(), s.config.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list due renewals: %w", err)
		}
		if len(due) == 0 {
			return stats, nil
		}

		var renewed, failed int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.Concurrency)
		for _, tenantID := range due {
			tenantID := tenantID
			g.Go(func() error {
				if _, err := s.manager.Renew(gctx, tenantID); err != nil {
					atomic.AddInt64(&failed, 1)
					s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to renew subscription")
					return nil
				}
				atomic.AddInt64(&renewed, 1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		stats.Due += len(due)
		stats.Renewed += int(renewed)
		stats.Failed += int(failed)

		// A short batch was the last one; a batch with no progress would be
		// listed again unchanged.
		if len(due) < s.config.BatchSize || renewed == 0 {
			return stats, nil
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
