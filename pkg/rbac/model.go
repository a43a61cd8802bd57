package rbac

// Model evaluates actor permissions. The zero value is usable and treats no
// tenant as the platform operator.
type Model struct {
	platformTenantID string
}

// NewModel creates a permission model. platformTenantID identifies the tenant
// whose members may be granted sub-operator management.
func NewModel(platformTenantID string) *Model {
	return &Model{platformTenantID: platformTenantID}
}

// IsPlatformTenant reports whether tenantID is the platform-operator tenant
func (m *Model) IsPlatformTenant(tenantID string) bool {
	return m != nil && m.platformTenantID != "" && tenantID == m.platformTenantID
}

// HasPermission reports whether actor may reach module. Missing actors,
// unknown modules and absent permission data all resolve to false.
func (m *Model) HasPermission(actor *Actor, module Module) bool {
	if actor == nil || actor.UserID == "" {
		return false
	}
	if !module.Valid() {
		return false
	}

	// The owner role is checked before the stored set so it can never be
	// locked out by stale or empty permission data.
	if actor.Role == RoleOwner {
		if module == ModuleSubOperators {
			return m.IsPlatformTenant(actor.TenantID)
		}
		return true
	}

	if module == ModuleSubOperators && !m.IsPlatformTenant(actor.TenantID) {
		return false
	}
	return actor.Permissions.Has(module)
}

// EffectivePermissions returns the modules the actor can actually reach
func (m *Model) EffectivePermissions(actor *Actor) Permissions {
	var out Permissions
	for _, module := range AllModules() {
		if m.HasPermission(actor, module) {
			out = append(out, module)
		}
	}
	return out.Normalize()
}

// CanManageAccess reports whether actor holds the manage-access capability,
// which is required to change memberships and permission sets.
func (m *Model) CanManageAccess(actor *Actor) bool {
	return m.HasPermission(actor, ModuleSettings)
}
