package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

var guardTracer = otel.Tracer("gatekeeper/guard")

// MeteredAction describes the quota an authorized action draws on. Set Kind
// for a metered unit or Secondary for a capped resource such as a staff seat.
type MeteredAction struct {
	Kind      quota.Kind     `json:"kind,omitempty"`
	Secondary quota.Resource `json:"secondary,omitempty"`
}

// Observer receives every decision the guard makes
type Observer interface {
	ObserveDecision(module string, reason string)
}

// Config wires a Guard
type Config struct {
	Model    *rbac.Model
	Enforcer *quota.Enforcer
	Store    subscription.Store
	Catalog  *plans.Catalog
	// Counter reports secondary resource usage in summaries. Optional.
	Counter  quota.Counter
	Observer Observer
	Logger   *logrus.Logger
}

// Guard is the single entry point for entitlement decisions. It composes the
// permission model with quota enforcement.
type Guard struct {
	model    *rbac.Model
	enforcer *quota.Enforcer
	store    subscription.Store
	catalog  *plans.Catalog
	counter  quota.Counter
	observer Observer
	logger   *logrus.Logger
	now      func() time.Time
}

// New creates an access guard
func New(config Config) *Guard {
	if config.Model == nil {
		config.Model = rbac.NewModel("")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Guard{
		model:    config.Model,
		enforcer: config.Enforcer,
		store:    config.Store,
		catalog:  config.Catalog,
		counter:  config.Counter,
		observer: config.Observer,
		logger:   config.Logger,
		now:      time.Now,
	}
}

// Authorize decides whether actor may use module and, when action is given,
// whether the tenant's plan allows it. Permission is checked first: a denied
// actor never touches the quota. An allowed metered action has consumed one
// unit when Authorize returns.
func (g *Guard) Authorize(ctx context.Context, actor *rbac.Actor, module rbac.Module, action *MeteredAction) (entitlement.Decision, error) {
	ctx, span := guardTracer.Start(ctx, "Authorize",
		trace.WithAttributes(attribute.String("module", string(module))),
	)
	defer span.End()

	decision, err := g.authorize(ctx, actor, module, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization failed")
		g.logger.WithError(err).WithFields(logrus.Fields{
			"module":    module,
			"tenant_id": tenantOf(actor),
		}).Warn("Entitlement check failed")
		return entitlement.Decision{}, err
	}

	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("reason", string(decision.Reason)),
	)
	if g.observer != nil {
		g.observer.ObserveDecision(string(module), string(decision.Reason))
	}
	return decision, nil
}

func (g *Guard) authorize(ctx context.Context, actor *rbac.Actor, module rbac.Module, action *MeteredAction) (entitlement.Decision, error) {
	if !g.model.HasPermission(actor, module) {
		return entitlement.Deny(entitlement.ReasonPermissionDenied), nil
	}
	if action == nil {
		return entitlement.Allow(), nil
	}
	if g.enforcer == nil {
		return entitlement.Decision{}, fmt.Errorf("no quota enforcer configured")
	}

	if action.Secondary != "" {
		return g.enforcer.CheckSecondary(ctx, actor.TenantID, action.Secondary)
	}

	kind := action.Kind
	if kind == "" {
		kind = quota.KindAppointment
	}
	return g.enforcer.CheckAndReserve(ctx, actor.TenantID, kind)
}

// Release hands back a unit reserved by an allowed metered Authorize whose
// action did not complete. The actor must still hold module, and reservation
// comes from that Authorize decision.
func (g *Guard) Release(ctx context.Context, actor *rbac.Actor, module rbac.Module, action *MeteredAction, reservation quota.Reservation) error {
	if !g.model.HasPermission(actor, module) {
		g.logger.WithFields(logrus.Fields{
			"module":    module,
			"tenant_id": tenantOf(actor),
		}).Warn("Release denied")
		return entitlement.ErrPermissionDenied
	}
	if action == nil || action.Secondary != "" || g.enforcer == nil {
		return nil
	}
	kind := action.Kind
	if kind == "" {
		kind = quota.KindAppointment
	}
	return g.enforcer.Release(ctx, actor.TenantID, kind, reservation)
}

// Summary is the read-only entitlement view shown to tenants
type Summary struct {
	TenantID    string              `json:"tenant_id"`
	Plan        string              `json:"plan"`
	Status      subscription.Status `json:"status"`
	Used        int64               `json:"used"`
	Max         int64               `json:"max"`
	PercentUsed float64             `json:"percent_used"`
	NextResetAt time.Time           `json:"next_reset_at"`
	Features    []plans.Feature     `json:"features"`
	StaffUsed   int64               `json:"staff_used"`
	StaffMax    int64               `json:"staff_max"`
	Upgradeable bool                `json:"upgradeable"`
}

// EntitlementSummary reports the tenant's plan and usage. It never mutates state.
func (g *Guard) EntitlementSummary(ctx context.Context, tenantID string) (Summary, error) {
	ctx, span := guardTracer.Start(ctx, "EntitlementSummary",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)),
	)
	defer span.End()

	state, err := g.store.Load(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, subscription.ErrNotFound) {
			err = entitlement.Unavailable("failed to load subscription", err)
		}
		span.RecordError(err)
		return Summary{}, err
	}

	summary := Summary{
		TenantID:    tenantID,
		Plan:        state.Plan,
		Status:      state.Status(g.catalog),
		Used:        state.UsedUnits,
		NextResetAt: state.NextResetAt,
		Features:    []plans.Feature{},
	}

	plan, err := g.catalog.LookupPlan(state.Plan)
	if err != nil {
		return summary, nil
	}

	// A lapsed free cycle reads as empty until the renewal is written.
	if state.Active && state.RenewalDue(g.now()) && !plan.IsPaid() {
		summary.Used = 0
	}

	summary.Max = int64(plan.MaxMeteredUnits)
	summary.StaffMax = int64(plan.MaxSecondaryResource)
	if plan.Features != nil {
		summary.Features = plan.Features
	}
	if !plan.IsUnlimited() && plan.MaxMeteredUnits > 0 {
		summary.PercentUsed = float64(summary.Used) / float64(plan.MaxMeteredUnits) * 100
		if summary.PercentUsed > 100 {
			summary.PercentUsed = 100
		}
	}
	summary.Upgradeable = summary.Status == subscription.StatusFree

	if g.counter != nil {
		staff, err := g.counter.CountActive(ctx, tenantID, quota.ResourceStaff)
		if err != nil {
			return Summary{}, entitlement.Unavailable("failed to count staff", err)
		}
		summary.StaffUsed = staff
	}
	return summary, nil
}

// Model returns the permission model
func (g *Guard) Model() *rbac.Model {
	return g.model
}

func tenantOf(actor *rbac.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.TenantID
}
