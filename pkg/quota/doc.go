// Package quota enforces the per-cycle metered-unit quota and the secondary
// resource caps of a tenant's plan.
//
// CheckAndReserve is the only path that consumes units. It loads the tenant
// state, resolves the plan and, for finite plans, asks the store for a single
// compare-and-increment conditioned on both the ceiling and the state
// version. Two callers racing for the last unit cannot both succeed, and an
// increment racing a plan transition is retried against the new plan rather
// than counted against the old one.
//
// Unlimited plans are allowed without touching the counter.
//
// Release is a compensating decrement for an authorized action that did not
// complete. It is skipped once the state version has moved on, so errors can
// only leave the counter lower than the true usage.
//
// CheckSecondary caps resources such as staff seats. It does not reserve:
// the resource is counted by a Counter when the check runs.
package quota
