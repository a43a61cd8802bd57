package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps subscription state in process. A single mutex serializes
// every operation, which makes IncrementUsage trivially linearizable.
type MemoryStore struct {
	mu           sync.Mutex
	states       map[string]*State
	reservations map[string]map[string]struct{}
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:       make(map[string]*State),
		reservations: make(map[string]map[string]struct{}),
		now:          time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, tenantID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, state *State) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.states[state.TenantID]; ok {
		return existing.Clone(), ErrAlreadyExists
	}

	stored := state.Clone()
	now := s.now().UTC()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.states[state.TenantID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) IncrementUsage(ctx context.Context, tenantID string, ceiling, expectedVersion int64, reservationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[tenantID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	if state.Version != expectedVersion {
		return state.UsedUnits, ErrVersionConflict
	}
	if ceiling >= 0 && state.UsedUnits >= ceiling {
		return state.UsedUnits, ErrCeilingReached
	}
	state.UsedUnits++
	if reservationID != "" {
		held, ok := s.reservations[tenantID]
		if !ok {
			held = make(map[string]struct{})
			s.reservations[tenantID] = held
		}
		held[reservationID] = struct{}{}
	}
	return state.UsedUnits, nil
}

func (s *MemoryStore) DecrementUsage(ctx context.Context, tenantID string, expectedVersion int64, reservationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[tenantID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	if state.Version != expectedVersion {
		return state.UsedUnits, ErrVersionConflict
	}
	held := s.reservations[tenantID]
	if _, ok := held[reservationID]; !ok {
		return state.UsedUnits, ErrReservationNotFound
	}
	delete(held, reservationID)
	if state.UsedUnits > 0 {
		state.UsedUnits--
	}
	return state.UsedUnits, nil
}

func (s *MemoryStore) Write(ctx context.Context, state *State, expectedVersion int64) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[state.TenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, state.TenantID)
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	stored := state.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	s.states[state.TenantID] = stored
	delete(s.reservations, state.TenantID)
	return stored.Clone(), nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*State, 0)
	for _, state := range s.states {
		if state.Active && state.RenewalDue(now) {
			due = append(due, state)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextResetAt.Equal(due[j].NextResetAt) {
			return due[i].TenantID < due[j].TenantID
		}
		return due[i].NextResetAt.Before(due[j].NextResetAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]string, len(due))
	for i, state := range due {
		out[i] = state.TenantID
	}
	return out, nil
}
