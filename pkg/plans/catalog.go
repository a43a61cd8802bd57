package plans

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ErrPlanNotFound is returned when a plan name is not in the catalog
var ErrPlanNotFound = errors.New("plan not found")

// Catalog is the static table of plan tiers. It is built once at startup and
// never mutated afterwards, so it is safe for concurrent use.
type Catalog struct {
	plans         map[string]Plan
	order         []string
	defaultPlan   string
	upgradeTarget string
}

type catalogFile struct {
	UpgradeTarget string `yaml:"upgrade_target"`
	Plans         []Plan `yaml:"plans"`
}

// DefaultCatalog returns the catalog embedded in the binary
func DefaultCatalog() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// MustDefaultCatalog is DefaultCatalog for package initialisation and tests
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a catalog from a YAML file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	return New(file.UpgradeTarget, file.Plans...)
}

// New builds a catalog from plans. upgradeTarget names the paid tier that
// tenants move to on upgrade.
func New(upgradeTarget string, plans ...Plan) (*Catalog, error) {
	c := &Catalog{
		plans:         make(map[string]Plan, len(plans)),
		upgradeTarget: upgradeTarget,
	}

	for _, p := range plans {
		if p.Name == "" {
			return nil, fmt.Errorf("plan name is required")
		}
		if _, dup := c.plans[p.Name]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.Name)
		}
		c.plans[p.Name] = p
		c.order = append(c.order, p.Name)
		if p.Default {
			if c.defaultPlan != "" {
				return nil, fmt.Errorf("plans %q and %q are both marked default", c.defaultPlan, p.Name)
			}
			c.defaultPlan = p.Name
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the catalog invariants
func (c *Catalog) Validate() error {
	if c.defaultPlan == "" {
		return fmt.Errorf("catalog has no default plan")
	}
	if def := c.plans[c.defaultPlan]; def.PriceCents != 0 {
		return fmt.Errorf("default plan %q must be free, has price %d", def.Name, def.PriceCents)
	}

	for _, name := range c.order {
		p := c.plans[name]
		if p.PriceCents < 0 {
			return fmt.Errorf("plan %q has negative price", name)
		}
		if !p.MaxMeteredUnits.IsUnlimited() && p.MaxMeteredUnits <= 0 {
			return fmt.Errorf("plan %q: max_metered_units must be positive or unlimited", name)
		}
		if !p.MaxSecondaryResource.IsUnlimited() && p.MaxSecondaryResource <= 0 {
			return fmt.Errorf("plan %q: max_secondary_resource must be positive or unlimited", name)
		}
	}

	target, ok := c.plans[c.upgradeTarget]
	if !ok {
		return fmt.Errorf("upgrade target %q is not in the catalog", c.upgradeTarget)
	}
	if !target.IsPaid() {
		return fmt.Errorf("upgrade target %q must be a paid plan", target.Name)
	}

	return nil
}

// LookupPlan resolves a plan by name
func (c *Catalog) LookupPlan(name string) (Plan, error) {
	p, ok := c.plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, name)
	}
	return p, nil
}

// Default returns the free tier new tenants start on
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultPlan]
}

// UpgradeTarget returns the paid tier tenants move to on upgrade
func (c *Catalog) UpgradeTarget() Plan {
	return c.plans[c.upgradeTarget]
}

// Plans returns every plan in catalog order
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.plans[name])
	}
	return out
}
