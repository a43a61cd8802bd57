package subscription

import (
	"context"
	"time"
)

// Observer receives the outcome of every store operation
type Observer interface {
	ObserveStoreOperation(op string, duration time.Duration, err error)
}

// Instrument wraps store so that each operation is bounded by timeout (when
// positive) and reported to observer (when non-nil).
func Instrument(store Store, timeout time.Duration, observer Observer) Store {
	return &instrumentedStore{next: store, timeout: timeout, observer: observer}
}

type instrumentedStore struct {
	next     Store
	timeout  time.Duration
	observer Observer
}

func (s *instrumentedStore) begin(ctx context.Context) (context.Context, context.CancelFunc, time.Time) {
	start := time.Now()
	if s.timeout <= 0 {
		return ctx, func() {}, start
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, cancel, start
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveStoreOperation(op, time.Since(start), err)
	}
}

func (s *instrumentedStore) Load(ctx context.Context, tenantID string) (*State, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	state, err := s.next.Load(ctx, tenantID)
	s.observe("load", start, err)
	return state, err
}

func (s *instrumentedStore) Create(ctx context.Context, state *State) (*State, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	out, err := s.next.Create(ctx, state)
	s.observe("create", start, err)
	return out, err
}

func (s *instrumentedStore) IncrementUsage(ctx context.Context, tenantID string, ceiling, expectedVersion int64, reservationID string) (int64, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	used, err := s.next.IncrementUsage(ctx, tenantID, ceiling, expectedVersion, reservationID)
	s.observe("increment", start, err)
	return used, err
}

func (s *instrumentedStore) DecrementUsage(ctx context.Context, tenantID string, expectedVersion int64, reservationID string) (int64, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	used, err := s.next.DecrementUsage(ctx, tenantID, expectedVersion, reservationID)
	s.observe("decrement", start, err)
	return used, err
}

func (s *instrumentedStore) Write(ctx context.Context, state *State, expectedVersion int64) (*State, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	out, err := s.next.Write(ctx, state, expectedVersion)
	s.observe("write", start, err)
	return out, err
}

func (s *instrumentedStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	due, err := s.next.ListDue(ctx, now, limit)
	s.observe("list_due", start, err)
	return due, err
}
