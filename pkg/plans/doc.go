// Package plans provides the static plan catalog: tiers, their quotas and
// feature flags, and the billing cycle length.
//
// The catalog is loaded once at startup (embedded YAML, optionally replaced by
// a file) and is read-only afterwards. Exactly one plan is the free default
// tier, and one paid plan is the upgrade target.
//
//	catalog, err := plans.DefaultCatalog()
//	free := catalog.Default()
//	if free.MaxMeteredUnits.Allows(used) { ... }
package plans
