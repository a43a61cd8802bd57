package rbac

import (
	"sort"
	"time"
)

// Module is a feature area of the product an actor can be granted
type Module string

const (
	ModuleScheduling    Module = "scheduling"
	ModuleClientRecords Module = "client-records"
	ModuleStaffRecords  Module = "staff-records"
	ModuleServices      Module = "services"
	ModuleFinancial     Module = "financial"
	ModuleReporting     Module = "reporting"
	ModuleSettings      Module = "settings"

	// ModuleSubOperators is only grantable inside the platform-operator tenant
	ModuleSubOperators Module = "sub-operators"
)

// AllModules returns the fixed module enumeration
func AllModules() []Module {
	return []Module{
		ModuleScheduling,
		ModuleClientRecords,
		ModuleStaffRecords,
		ModuleServices,
		ModuleFinancial,
		ModuleReporting,
		ModuleSettings,
		ModuleSubOperators,
	}
}

// Valid reports whether m is part of the module enumeration
func (m Module) Valid() bool {
	switch m {
	case ModuleScheduling, ModuleClientRecords, ModuleStaffRecords, ModuleServices,
		ModuleFinancial, ModuleReporting, ModuleSettings, ModuleSubOperators:
		return true
	}
	return false
}

// Role is a tenant membership role
type Role string

const (
	// RoleOwner is the full-access role. It is never subject to the stored permission set.
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleManager || r == RoleStaff
}

// Permissions is the set of modules granted to an actor
type Permissions []Module

// Has reports whether the set contains m
func (p Permissions) Has(m Module) bool {
	for _, granted := range p {
		if granted == m {
			return true
		}
	}
	return false
}

// Normalize drops unknown modules and duplicates and sorts the result.
// Stored data that fails to parse degrades to fewer permissions, never more.
func (p Permissions) Normalize() Permissions {
	seen := make(map[Module]struct{}, len(p))
	out := make(Permissions, 0, len(p))
	for _, m := range p {
		if !m.Valid() {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the permission set as plain strings (for storage)
func (p Permissions) Strings() []string {
	out := make([]string, len(p))
	for i, m := range p {
		out[i] = string(m)
	}
	return out
}

// ParsePermissions converts stored strings into a normalized permission set
func ParsePermissions(values []string) Permissions {
	p := make(Permissions, 0, len(values))
	for _, v := range values {
		p = append(p, Module(v))
	}
	return p.Normalize()
}

// Actor is an authenticated user acting within a tenant
type Actor struct {
	UserID      string      `json:"user_id"`
	TenantID    string      `json:"tenant_id"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the actor
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	c := *a
	c.Permissions = append(Permissions(nil), a.Permissions...)
	return &c
}

// DefaultPermissions returns the permissions a new member receives for a role
func DefaultPermissions(role Role) Permissions {
	switch role {
	case RoleOwner:
		return Permissions{
			ModuleScheduling, ModuleClientRecords, ModuleStaffRecords, ModuleServices,
			ModuleFinancial, ModuleReporting, ModuleSettings,
		}.Normalize()
	case RoleManager:
		return Permissions{
			ModuleScheduling, ModuleClientRecords, ModuleStaffRecords, ModuleServices, ModuleReporting,
		}.Normalize()
	default:
		return Permissions{ModuleScheduling, ModuleClientRecords}.Normalize()
	}
}
