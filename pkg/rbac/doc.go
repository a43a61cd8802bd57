// Package rbac implements the module permission model for tenant members.
//
// # Overview
//
// Every member of a tenant has a role (owner, manager or staff) and a set of
// product modules they may reach. Owners reach every module regardless of the
// stored set, so an empty or damaged permission list can never lock the
// owner out. Sub-operator management is reserved for the platform tenant.
//
//	model := rbac.NewModel("platform")
//	model.HasPermission(actor, rbac.ModuleFinancial)
//
// HasPermission is pure and never fails. Unknown modules and missing actors
// resolve to false.
//
// # Stores
//
// ActorStore resolves users to memberships. PostgresActorStore persists them
// in tenant_members with the permission set in a text[] column,
// MemoryActorStore keeps them in process, and CachedActorStore fronts either
// with an expiring LRU.
//
// # Managing access
//
// Service applies membership changes. The acting user must hold the
// manage-access capability (owner, or a member with the settings module) and
// may only change members of their own tenant.
package rbac
