package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission_NilActor(t *testing.T) {
	m := NewModel("platform")
	for _, module := range AllModules() {
		assert.False(t, m.HasPermission(nil, module), module)
	}
	assert.False(t, m.HasPermission(&Actor{}, ModuleScheduling))
}

func TestHasPermission_OwnerOverride(t *testing.T) {
	m := NewModel("platform")

	tests := []struct {
		name  string
		perms Permissions
	}{
		{"empty", Permissions{}},
		{"nil", nil},
		{"malformed", Permissions{"bogus", "", "FINANCIAL"}},
		{"stale subset", Permissions{ModuleScheduling}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner := &Actor{UserID: "u1", TenantID: "t1", Role: RoleOwner, Permissions: tt.perms}
			for _, module := range AllModules() {
				if module == ModuleSubOperators {
					continue
				}
				assert.True(t, m.HasPermission(owner, module), module)
			}
		})
	}
}

func TestHasPermission_StaffSubset(t *testing.T) {
	m := NewModel("")
	staff := &Actor{UserID: "u2", TenantID: "t1", Role: RoleStaff, Permissions: Permissions{ModuleScheduling}}

	assert.True(t, m.HasPermission(staff, ModuleScheduling))
	assert.False(t, m.HasPermission(staff, ModuleFinancial))
	assert.False(t, m.HasPermission(staff, ModuleSettings))
	assert.False(t, m.HasPermission(staff, Module("unknown")))
}

func TestHasPermission_SubOperators(t *testing.T) {
	m := NewModel("platform")

	platformOwner := &Actor{UserID: "op", TenantID: "platform", Role: RoleOwner}
	tenantOwner := &Actor{UserID: "own", TenantID: "salon-1", Role: RoleOwner}
	grantedElsewhere := &Actor{UserID: "x", TenantID: "salon-1", Role: RoleManager, Permissions: Permissions{ModuleSubOperators}}
	platformManager := &Actor{UserID: "y", TenantID: "platform", Role: RoleManager, Permissions: Permissions{ModuleSubOperators}}

	assert.True(t, m.HasPermission(platformOwner, ModuleSubOperators))
	assert.False(t, m.HasPermission(tenantOwner, ModuleSubOperators))
	assert.False(t, m.HasPermission(grantedElsewhere, ModuleSubOperators))
	assert.True(t, m.HasPermission(platformManager, ModuleSubOperators))

	var zero Model
	assert.False(t, zero.HasPermission(platformOwner, ModuleSubOperators))
}

func TestCanManageAccess(t *testing.T) {
	m := NewModel("")

	assert.True(t, m.CanManageAccess(&Actor{UserID: "o", Role: RoleOwner}))
	assert.True(t, m.CanManageAccess(&Actor{UserID: "m", Role: RoleManager, Permissions: Permissions{ModuleSettings}}))
	assert.False(t, m.CanManageAccess(&Actor{UserID: "s", Role: RoleStaff, Permissions: Permissions{ModuleScheduling}}))
	assert.False(t, m.CanManageAccess(nil))
}

func TestEffectivePermissions(t *testing.T) {
	m := NewModel("")
	staff := &Actor{UserID: "s", Role: RoleStaff, Permissions: Permissions{ModuleReporting, ModuleScheduling, "junk"}}

	assert.Equal(t, Permissions{ModuleReporting, ModuleScheduling}, m.EffectivePermissions(staff))
	assert.Len(t, m.EffectivePermissions(&Actor{UserID: "o", Role: RoleOwner}), 7)
}

func TestParsePermissions(t *testing.T) {
	p := ParsePermissions([]string{"scheduling", "financial", "scheduling", "nope"})
	assert.Equal(t, Permissions{ModuleFinancial, ModuleScheduling}, p)
	assert.Equal(t, []string{"financial", "scheduling"}, p.Strings())
}

func TestDefaultPermissions(t *testing.T) {
	assert.True(t, DefaultPermissions(RoleOwner).Has(ModuleSettings))
	assert.False(t, DefaultPermissions(RoleManager).Has(ModuleFinancial))
	assert.Equal(t, Permissions{ModuleClientRecords, ModuleScheduling}, DefaultPermissions(RoleStaff))
}
