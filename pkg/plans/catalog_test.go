package plans

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	free := c.Default()
	assert.Equal(t, "Free", free.Name)
	assert.Equal(t, int64(0), free.PriceCents)
	assert.False(t, free.IsUnlimited())
	assert.Equal(t, Limit(25), free.MaxMeteredUnits)

	pro := c.UpgradeTarget()
	assert.Equal(t, "Professional", pro.Name)
	assert.True(t, pro.IsUnlimited())
	assert.True(t, pro.IsPaid())
	assert.Contains(t, pro.Features, FeatureFinancialAccess)
	assert.NotContains(t, free.Features, FeatureFinancialAccess)

	assert.Len(t, c.Plans(), 2)
}

func TestLookupPlan(t *testing.T) {
	c := MustDefaultCatalog()

	p, err := c.LookupPlan("Professional")
	require.NoError(t, err)
	assert.Equal(t, "Professional", p.Name)

	_, err = c.LookupPlan("Platinum")
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestParse_Unlimited(t *testing.T) {
	c, err := Parse([]byte(`
upgrade_target: Pro
plans:
  - name: Free
    default: true
    max_metered_units: 5
    max_secondary_resource: 1
  - name: Pro
    max_metered_units: UNLIMITED
    max_secondary_resource: unlimited
    price_cents: 1000
`))
	require.NoError(t, err)

	pro, err := c.LookupPlan("Pro")
	require.NoError(t, err)
	assert.True(t, pro.IsUnlimited())
	assert.True(t, pro.SecondaryUnlimited())
	assert.Equal(t, "unlimited", pro.MaxMeteredUnits.String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no default",
			yaml: `
upgrade_target: Pro
plans:
  - {name: Pro, max_metered_units: 1, max_secondary_resource: 1, price_cents: 10}
`,
			want: "no default plan",
		},
		{
			name: "two defaults",
			yaml: `
upgrade_target: Pro
plans:
  - {name: A, default: true, max_metered_units: 1, max_secondary_resource: 1}
  - {name: B, default: true, max_metered_units: 1, max_secondary_resource: 1}
`,
			want: "both marked default",
		},
		{
			name: "paid default",
			yaml: `
upgrade_target: Pro
plans:
  - {name: Free, default: true, max_metered_units: 1, max_secondary_resource: 1, price_cents: 5}
  - {name: Pro, max_metered_units: 1, max_secondary_resource: 1, price_cents: 10}
`,
			want: "must be free",
		},
		{
			name: "zero limit",
			yaml: `
upgrade_target: Pro
plans:
  - {name: Free, default: true, max_metered_units: 0, max_secondary_resource: 1}
  - {name: Pro, max_metered_units: 1, max_secondary_resource: 1, price_cents: 10}
`,
			want: "max_metered_units must be positive",
		},
		{
			name: "bad limit",
			yaml: `
upgrade_target: Pro
plans:
  - {name: Free, default: true, max_metered_units: lots, max_secondary_resource: 1}
`,
			want: "invalid limit",
		},
		{
			name: "missing upgrade target",
			yaml: `
upgrade_target: Gold
plans:
  - {name: Free, default: true, max_metered_units: 1, max_secondary_resource: 1}
`,
			want: "upgrade target",
		},
		{
			name: "free upgrade target",
			yaml: `
upgrade_target: Free
plans:
  - {name: Free, default: true, max_metered_units: 1, max_secondary_resource: 1}
`,
			want: "must be a paid plan",
		},
		{
			name: "duplicate",
			yaml: `
upgrade_target: Pro
plans:
  - {name: Free, default: true, max_metered_units: 1, max_secondary_resource: 1}
  - {name: Free, max_metered_units: 1, max_secondary_resource: 1}
`,
			want: "duplicate plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, defaultCatalogYAML, 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Free", c.Default().Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLimitAllows(t *testing.T) {
	assert.True(t, Limit(5).Allows(4))
	assert.False(t, Limit(5).Allows(5))
	assert.True(t, Limit(Unlimited).Allows(1_000_000))
}

func TestNextCycle(t *testing.T) {
	start := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC), NextCycle(start))
}
