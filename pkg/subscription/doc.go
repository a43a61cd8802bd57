// Package subscription holds the per-tenant subscription record and the stores
// that persist it.
//
// A State names the tenant's plan, its metered usage for the current cycle
// and when that cycle ends. Version fences the two kinds of mutation: plan
// transitions replace the whole record through Write and bump the version,
// while metered actions call IncrementUsage conditioned on the version they
// read. An increment computed against a plan that has since changed fails
// with ErrVersionConflict instead of landing on the new plan.
//
// Three stores implement the contract:
//
//   - MemoryStore: a mutex-guarded map, for tests and single-node use
//   - RedisStore: one hash per tenant, mutated by Lua scripts
//   - PostgresStore: conditional UPDATE ... RETURNING statements
//
// Instrument wraps any store with per-call timeouts and latency reporting.
// Infrastructure failures are wrapped with entitlement.ErrStoreUnavailable.
package subscription
