package transitions

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
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

var managerTracer = otel.Tracer("gatekeeper/transitions")

const (
	// DefaultMaxAttempts bounds the reload-and-retry loop on version conflicts
	DefaultMaxAttempts = 5

	// DefaultTimeout bounds a transition shared by concurrent callers
	DefaultTimeout = 30 * time.Second
)

// Kind identifies a plan transition
type Kind string

const (
	KindOnboard    Kind = "onboard"
	KindUpgrade    Kind = "upgrade"
	KindDowngrade  Kind = "downgrade"
	KindRenew      Kind = "renew"
	KindDeactivate Kind = "deactivate"
	KindReactivate Kind = "reactivate"
)

// Result is the outcome of a transition. Changed is false when the tenant
// was already in the target state and nothing was written.
type Result struct {
	State   *subscription.State `json:"state"`
	Changed bool                `json:"changed"`
}

// Observer receives transition outcomes and version conflicts
type Observer interface {
	ObserveTransition(kind string, changed bool, err error)
	ObserveConflict(operation string)
}

// Config tunes a Manager
type Config struct {
	MaxAttempts int
	// Timeout bounds the shared work of a transition. It runs detached from
	// the caller that started it, so one caller leaving does not fail the
	// others waiting on the same transition.
	Timeout     time.Duration
	Settler     Settler
	Observer    Observer
	Now         func() time.Time
}

// Manager applies plan transitions to subscription state. Every write is a
// compare-and-swap on the state version, which also fences off quota
// increments computed against the previous plan.
type Manager struct {
	store       subscription.Store
	catalog     *plans.Catalog
	settler     Settler
	observer    Observer
	logger      *logrus.Logger
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time
	group       singleflight.Group
}

// NewManager creates a transition manager
func NewManager(store subscription.Store, catalog *plans.Catalog, logger *logrus.Logger, config Config) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Settler == nil {
		config.Settler = NoopSettler{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		store:       store,
		catalog:     catalog,
		settler:     config.Settler,
		observer:    config.Observer,
		logger:      logger,
		maxAttempts: config.MaxAttempts,
		timeout:     config.Timeout,
		now:         config.Now,
	}
}

// Onboard creates the default-tier subscription for a new tenant. Onboarding
// an existing tenant returns its state unchanged.
func (m *Manager) Onboard(ctx context.Context, tenantID string) (Result, error) {
	return m.do(ctx, tenantID, KindOnboard, func(ctx context.Context) (Result, error) {
		state := subscription.NewState(tenantID, m.catalog.Default(), m.now())
		created, err := m.store.Create(ctx, state)
		if errors.Is(err, subscription.ErrAlreadyExists) {
			return Result{State: created}, nil
		}
		if err != nil {
			return Result{}, entitlement.Unavailable("failed to create subscription", err)
		}
		return Result{State: created, Changed: true}, nil
	})
}

// Upgrade moves a free tenant onto the catalog upgrade target with a fresh
// cycle. Upgrading a paid tenant is a no-op.
func (m *Manager) Upgrade(ctx context.Context, tenantID string) (Result, error) {
	return m.transition(ctx, tenantID, KindUpgrade, m.planUpgrade)
}

// Downgrade moves a paid tenant onto the default tier with a fresh cycle.
// Downgrading a free tenant is a no-op.
func (m *Manager) Downgrade(ctx context.Context, tenantID string) (Result, error) {
	return m.transition(ctx, tenantID, KindDowngrade, m.planDowngrade)
}

// Renew closes the current cycle once it has ended. Free tenants get their
// counter reset; paid tenants only advance the cycle. Renewing before the
// cycle ends, or renewing an inactive tenant, is a no-op.
func (m *Manager) Renew(ctx context.Context, tenantID string) (Result, error) {
	return m.transition(ctx, tenantID, KindRenew, m.planRenew)
}

// RenewState renews if due and returns the resulting state
func (m *Manager) RenewState(ctx context.Context, tenantID string) (*subscription.State, error) {
	result, err := m.Renew(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return result.State, nil
}

// Deactivate marks the subscription lapsed or cancelled
func (m *Manager) Deactivate(ctx context.Context, tenantID string) (Result, error) {
	return m.transition(ctx, tenantID, KindDeactivate, m.planDeactivate)
}

// Reactivate restores an inactive tenant onto the default tier with a fresh cycle
func (m *Manager) Reactivate(ctx context.Context, tenantID string) (Result, error) {
	return m.transition(ctx, tenantID, KindReactivate, m.planReactivate)
}

// change is the write a transition wants to make. A nil change means the
// tenant is already in the target state.
type change struct {
	next   *subscription.State
	settle bool
	from   plans.Plan
	to     plans.Plan
}

type planner func(state *subscription.State, now time.Time) (*change, error)

func (m *Manager) transition(ctx context.Context, tenantID string, kind Kind, plan planner) (Result, error) {
	return m.do(ctx, tenantID, kind, func(ctx context.Context) (Result, error) {
		return m.apply(ctx, tenantID, kind, plan)
	})
}

// do collapses identical concurrent transitions for a tenant and wraps them
// in a span. Each caller waits on its own context; the shared work keeps
// running under the manager timeout when a caller gives up.
func (m *Manager) do(ctx context.Context, tenantID string, kind Kind, fn func(ctx context.Context) (Result, error)) (Result, error) {
	ctx, span := managerTracer.Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("kind", string(kind)),
		),
	)
	defer span.End()

	flight := m.group.DoChan(tenantID+"|"+string(kind), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		result, err := fn(flightCtx)
		if m.observer != nil {
			m.observer.ObserveTransition(string(kind), result.Changed, err)
		}
		return result, err
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "caller gave up")
		return Result{}, ctx.Err()
	}
	span.SetAttributes(attribute.Bool("shared", res.Shared))

	var result Result
	if res.Val != nil {
		result = res.Val.(Result)
	}

	err := res.Err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("changed", result.Changed))
	return result, nil
}

func (m *Manager) apply(ctx context.Context, tenantID string, kind Kind, plan planner) (Result, error) {
	log := m.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "transition": kind})

	var settled *[2]string
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		state, err := m.store.Load(ctx, tenantID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return Result{}, err
			}
			return Result{}, entitlement.Unavailable("failed to load subscription", err)
		}

		c, err := plan(state, m.now())
		if err != nil {
			return Result{}, err
		}
		if c == nil {
			return Result{State: state}, nil
		}

		if c.settle {
			pair := [2]string{c.from.Name, c.to.Name}
			if settled == nil || *settled != pair {
				if err := m.settler.Settle(ctx, tenantID, c.from, c.to); err != nil {
					log.WithError(err).Warn("Settlement rejected plan change")
					return Result{}, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
				}
				settled = &pair
			}
		}

		written, err := m.store.Write(ctx, c.next, state.Version)
		if errors.Is(err, subscription.ErrVersionConflict) {
			if m.observer != nil {
				m.observer.ObserveConflict(string(kind))
			}
			log.WithField("attempt", attempt).Debug("Subscription changed concurrently, retrying")
			continue
		}
		if err != nil {
			return Result{}, entitlement.Unavailable("failed to write subscription", err)
		}

		log.WithFields(logrus.Fields{
			"from_plan": state.Plan,
			"to_plan":   written.Plan,
			"version":   written.Version,
		}).Info("Subscription transitioned")
		return Result{State: written, Changed: true}, nil
	}

	return Result{}, fmt.Errorf("%w: %s for tenant %s abandoned after %d attempts",
		entitlement.ErrTransitionConflict, kind, tenantID, m.maxAttempts)
}

// currentPlan resolves the state's plan. Unknown plans resolve to a bare
// value carrying only the name so a transition can still move off them.
func (m *Manager) currentPlan(state *subscription.State) plans.Plan {
	plan, err := m.catalog.LookupPlan(state.Plan)
	if err != nil {
		return plans.Plan{Name: state.Plan}
	}
	return plan
}

func (m *Manager) planUpgrade(state *subscription.State, now time.Time) (*change, error) {
	if !state.Active {
		return nil, entitlement.ErrSubscriptionInactive
	}
	if state.Status(m.catalog) == subscription.StatusPaid {
		return nil, nil
	}

	target := m.catalog.UpgradeTarget()
	next := state.Clone()
	next.Plan = target.Name
	next.StartCycle(now)
	return &change{next: next, settle: true, from: m.currentPlan(state), to: target}, nil
}

func (m *Manager) planDowngrade(state *subscription.State, now time.Time) (*change, error) {
	if !state.Active {
		return nil, entitlement.ErrSubscriptionInactive
	}
	def := m.catalog.Default()
	if state.Plan == def.Name {
		return nil, nil
	}

	next := state.Clone()
	next.Plan = def.Name
	next.StartCycle(now)
	return &change{next: next, settle: true, from: m.currentPlan(state), to: def}, nil
}

func (m *Manager) planRenew(state *subscription.State, now time.Time) (*change, error) {
	if !state.Active || !state.RenewalDue(now) {
		return nil, nil
	}

	next := state.Clone()
	for !next.NextResetAt.After(now) {
		next.CycleStart = next.NextResetAt
		next.NextResetAt = plans.NextCycle(next.NextResetAt)
	}
	if state.Status(m.catalog) != subscription.StatusPaid {
		next.UsedUnits = 0
	}
	return &change{next: next}, nil
}

func (m *Manager) planDeactivate(state *subscription.State, now time.Time) (*change, error) {
	if !state.Active {
		return nil, nil
	}
	next := state.Clone()
	next.Active = false
	return &change{next: next}, nil
}

func (m *Manager) planReactivate(state *subscription.State, now time.Time) (*change, error) {
	if state.Active {
		return nil, nil
	}
	def := m.catalog.Default()
	next := state.Clone()
	next.Plan = def.Name
	next.Active = true
	next.StartCycle(now)
	return &change{next: next, settle: true, from: m.currentPlan(state), to: def}, nil
}
