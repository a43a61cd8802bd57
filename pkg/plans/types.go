package plans

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Unlimited marks a limit with no ceiling (-1 so it stores cleanly in SQL and Redis)
const Unlimited int64 = -1

// Limit is a quota ceiling: a positive count or Unlimited
type Limit int64

// IsUnlimited reports whether the limit has no ceiling
func (l Limit) IsUnlimited() bool {
	return int64(l) == Unlimited
}

// Allows reports whether current usage leaves room for one more unit
func (l Limit) Allows(current int64) bool {
	return l.IsUnlimited() || current < int64(l)
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// UnmarshalYAML accepts either an integer or the word "unlimited"
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(value.Value), "unlimited") {
		*l = Limit(Unlimited)
		return nil
	}
	n, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid limit %q: must be a positive integer or \"unlimited\"", value.Value)
	}
	*l = Limit(n)
	return nil
}

// Feature is a named boolean capability granted by a plan
type Feature string

const (
	FeatureOnlineBooking   Feature = "online-booking"
	FeatureFinancialAccess Feature = "financial-access"
	FeatureAdvancedReports Feature = "advanced-reports"
	FeatureSMSReminders    Feature = "sms-reminders"
)

// Plan is an immutable subscription tier
type Plan struct {
	Name                 string    `yaml:"name" json:"name"`
	DisplayName          string    `yaml:"display_name" json:"display_name"`
	Default              bool      `yaml:"default" json:"default"`
	MaxMeteredUnits      Limit     `yaml:"max_metered_units" json:"max_metered_units"`
	MaxSecondaryResource Limit     `yaml:"max_secondary_resource" json:"max_secondary_resource"`
	PriceCents           int64     `yaml:"price_cents" json:"price_cents"`
	Currency             string    `yaml:"currency" json:"currency"`
	// Features are shown in the entitlement summary. They never change a
	// decision; module access comes from permissions alone.
	Features             []Feature `yaml:"features" json:"features"`
}

// IsUnlimited reports whether the metered quota has no ceiling
func (p Plan) IsUnlimited() bool {
	return p.MaxMeteredUnits.IsUnlimited()
}

// SecondaryUnlimited reports whether the secondary resource has no ceiling
func (p Plan) SecondaryUnlimited() bool {
	return p.MaxSecondaryResource.IsUnlimited()
}

// IsPaid reports whether the plan costs money
func (p Plan) IsPaid() bool {
	return p.PriceCents > 0
}

// NextCycle returns the start of the billing cycle following t
func NextCycle(t time.Time) time.Time {
	return t.AddDate(0, 1, 0)
}
