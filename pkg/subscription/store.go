package subscription

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a tenant has no subscription state
	ErrNotFound = errors.New("subscription not found")

	// ErrAlreadyExists is returned by Create when the tenant already has state
	ErrAlreadyExists = errors.New("subscription already exists")

	// ErrCeilingReached is returned by IncrementUsage when the counter is at
	// the ceiling. Nothing was incremented.
	ErrCeilingReached = errors.New("usage ceiling reached")

	// ErrVersionConflict is returned when the stored version differs from the
	// expected one. Nothing was written.
	ErrVersionConflict = errors.New("subscription version conflict")

	// ErrReservationNotFound is returned by DecrementUsage when the
	// reservation was never recorded or has already been released.
	ErrReservationNotFound = errors.New("reservation not found")
)

// NoCeiling disables the ceiling check of IncrementUsage
const NoCeiling int64 = -1

// Store persists subscription state. All implementations must make
// IncrementUsage a single linearizable compare-and-increment per tenant.
type Store interface {
	// Load returns the current state or ErrNotFound
	Load(ctx context.Context, tenantID string) (*State, error)

	// Create stores the initial state with Version 1. If state already exists
	// it is returned together with ErrAlreadyExists.
	Create(ctx context.Context, state *State) (*State, error)

	// IncrementUsage adds one unit if the stored version equals
	// expectedVersion and the counter is below ceiling (NoCeiling skips the
	// check). A non-empty reservationID is recorded in the same atomic step
	// so the unit can later be released once. It returns the new counter
	// value.
	IncrementUsage(ctx context.Context, tenantID string, ceiling, expectedVersion int64, reservationID string) (int64, error)

	// DecrementUsage consumes reservationID and removes one unit, flooring
	// at zero, if the stored version equals expectedVersion. Unknown or
	// already consumed reservations return ErrReservationNotFound.
	DecrementUsage(ctx context.Context, tenantID string, expectedVersion int64, reservationID string) (int64, error)

	// Write replaces the full state if the stored version equals
	// expectedVersion and returns the stored state with its new version.
	// Outstanding reservations are discarded with the old version.
	Write(ctx context.Context, state *State, expectedVersion int64) (*State, error)

	// ListDue returns up to limit active tenants whose cycle ended at or before now
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}
