package transitions

import (
	"context"
	"errors"

	"github.com/platinummonkey/gatekeeper/pkg/plans"
)

// ErrSettlementFailed is returned when the external billing step rejected a
// transition. The subscription state is left unchanged.
var ErrSettlementFailed = errors.New("settlement failed")

// Settler performs the billing side of a plan change. It runs before the new
// state is written and must be idempotent for a given tenant and plan pair.
type Settler interface {
	Settle(ctx context.Context, tenantID string, from, to plans.Plan) error
}

// SettlerFunc adapts a function to the Settler interface
type SettlerFunc func(ctx context.Context, tenantID string, from, to plans.Plan) error

func (f SettlerFunc) Settle(ctx context.Context, tenantID string, from, to plans.Plan) error {
	return f(ctx, tenantID, from, to)
}

// NoopSettler accepts every plan change
type NoopSettler struct{}

func (NoopSettler) Settle(context.Context, string, plans.Plan, plans.Plan) error {
	return nil
}
