package subscription

import (
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/plans"
)

// Status is the lifecycle state of a tenant subscription
type Status string

const (
	StatusFree     Status = "free"
	StatusPaid     Status = "paid"
	StatusInactive Status = "inactive"
)

// State is the per-tenant subscription record
type State struct {
	TenantID    string    `json:"tenant_id"`
	Plan        string    `json:"plan"`
	UsedUnits   int64     `json:"used_units"`
	CycleStart  time.Time `json:"cycle_start"`
	NextResetAt time.Time `json:"next_reset_at"`
	Active      bool      `json:"active"`

	// Version is bumped by every full-state write. Counter increments are
	// conditioned on it so they never land against a plan that has since
	// changed.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns the initial state of a tenant on plan, starting a cycle at now
func NewState(tenantID string, plan plans.Plan, now time.Time) *State {
	now = now.UTC()
	return &State{
		TenantID:    tenantID,
		Plan:        plan.Name,
		CycleStart:  now,
		NextResetAt: plans.NextCycle(now),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a copy of the state
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Status derives the lifecycle state. Unknown plans are treated as inactive.
func (s *State) Status(catalog *plans.Catalog) Status {
	if s == nil || !s.Active {
		return StatusInactive
	}
	plan, err := catalog.LookupPlan(s.Plan)
	if err != nil {
		return StatusInactive
	}
	if plan.IsPaid() {
		return StatusPaid
	}
	return StatusFree
}

// RenewalDue reports whether the current cycle has ended at now
func (s *State) RenewalDue(now time.Time) bool {
	return !now.Before(s.NextResetAt)
}

// StartCycle resets the counter and begins a new cycle at now
func (s *State) StartCycle(now time.Time) {
	now = now.UTC()
	s.UsedUnits = 0
	s.CycleStart = now
	s.NextResetAt = plans.NextCycle(now)
}
