package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

// DefaultMaxAttempts bounds the reload-and-retry loop on version conflicts
const DefaultMaxAttempts = 5

// Kind names a metered action. Every kind draws from the same per-cycle counter.
type Kind string

const (
	KindAppointment Kind = "appointment"
)

// Reservation identifies one unit taken by CheckAndReserve
type Reservation struct {
	ID      string `json:"reservation_id"`
	Version int64  `json:"version"`
}

// ReservationOf returns the reservation carried by an allowed decision
func ReservationOf(d entitlement.Decision) Reservation {
	return Reservation{ID: d.ReservationID, Version: d.Version}
}

// Renewer renews a tenant whose cycle has ended and returns the fresh state
type Renewer interface {
	RenewState(ctx context.Context, tenantID string) (*subscription.State, error)
}

// Observer is notified when a reservation lost a race with a plan transition
type Observer interface {
	ObserveConflict(operation string)
}

// Enforcer checks and reserves metered units against the tenant's plan
type Enforcer struct {
	store       subscription.Store
	catalog     *plans.Catalog
	counter     Counter
	renewer     Renewer
	observer    Observer
	logger      *logrus.Logger
	maxAttempts int
	now         func() time.Time
}

// Option configures an Enforcer
type Option func(*Enforcer)

// WithMaxAttempts sets how many times a reservation is retried after a
// version conflict before ErrTransitionConflict is returned.
func WithMaxAttempts(n int) Option {
	return func(e *Enforcer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithCounter sets the collaborator that counts secondary resources
func WithCounter(c Counter) Option {
	return func(e *Enforcer) { e.counter = c }
}

// WithRenewer renews lapsed cycles before a reservation is attempted
func WithRenewer(r Renewer) Option {
	return func(e *Enforcer) { e.renewer = r }
}

// WithObserver reports version conflicts
func WithObserver(o Observer) Option {
	return func(e *Enforcer) { e.observer = o }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer creates a quota enforcer
func NewEnforcer(store subscription.Store, catalog *plans.Catalog, logger *logrus.Logger, opts ...Option) *Enforcer {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Enforcer{
		store:       store,
		catalog:     catalog,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAndReserve decides whether the tenant may perform one metered action
// and, when allowed on a finite plan, reserves the unit atomically. Denials
// are decisions; only infrastructure faults and exhausted conflict retries
// are errors.
func (e *Enforcer) CheckAndReserve(ctx context.Context, tenantID string, kind Kind) (entitlement.Decision, error) {
	log := e.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "kind": kind})
	reservationID := uuid.NewString()

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return entitlement.Decision{}, err
		}

		state, plan, decision, err := e.resolve(ctx, tenantID, true)
		if err != nil {
			if errors.Is(err, subscription.ErrVersionConflict) {
				e.conflict("renew", log, attempt)
				continue
			}
			return entitlement.Decision{}, err
		}
		if decision != nil {
			return *decision, nil
		}

		if plan.IsUnlimited() {
			return entitlement.Decision{
				Allowed: true,
				Reason:  entitlement.ReasonOK,
				Used:    state.UsedUnits,
				Limit:   plans.Unlimited,
				Version: state.Version,
			}, nil
		}

		limit := int64(plan.MaxMeteredUnits)

		// Abandoned requests must not consume a unit.
		if err := ctx.Err(); err != nil {
			return entitlement.Decision{}, err
		}

		used, err := e.store.IncrementUsage(ctx, tenantID, limit, state.Version, reservationID)
		switch {
		case err == nil:
			return entitlement.Decision{
				Allowed:       true,
				Reason:        entitlement.ReasonOK,
				Used:          used,
				Limit:         limit,
				Version:       state.Version,
				ReservationID: reservationID,
			}, nil
		case errors.Is(err, subscription.ErrCeilingReached):
			log.WithFields(logrus.Fields{"used": used, "limit": limit}).Debug("Plan quota exceeded")
			d := entitlement.QuotaExceeded(used, limit)
			d.Version = state.Version
			return d, nil
		case errors.Is(err, subscription.ErrVersionConflict):
			e.conflict("reserve", log, attempt)
			continue
		case errors.Is(err, subscription.ErrNotFound):
			return entitlement.Deny(entitlement.ReasonSubscriptionInactive), nil
		default:
			return entitlement.Decision{}, entitlement.Unavailable("failed to reserve usage", err)
		}
	}

	return entitlement.Decision{}, fmt.Errorf("%w: reservation for tenant %s abandoned after %d attempts",
		entitlement.ErrTransitionConflict, tenantID, e.maxAttempts)
}

// resolve loads the tenant state and plan, renewing a lapsed cycle first when
// renew is set. A non-nil decision short-circuits the check.
func (e *Enforcer) resolve(ctx context.Context, tenantID string, renew bool) (*subscription.State, plans.Plan, *entitlement.Decision, error) {
	state, err := e.store.Load(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			d := entitlement.Deny(entitlement.ReasonSubscriptionInactive)
			return nil, plans.Plan{}, &d, nil
		}
		return nil, plans.Plan{}, nil, entitlement.Unavailable("failed to load subscription", err)
	}

	if renew && state.Active && e.renewer != nil && state.RenewalDue(e.now()) {
		renewed, err := e.renewer.RenewState(ctx, tenantID)
		if err != nil {
			if errors.Is(err, entitlement.ErrTransitionConflict) {
				return nil, plans.Plan{}, nil, subscription.ErrVersionConflict
			}
			return nil, plans.Plan{}, nil, err
		}
		state = renewed
	}

	if !state.Active {
		d := entitlement.Deny(entitlement.ReasonSubscriptionInactive)
		return state, plans.Plan{}, &d, nil
	}

	plan, err := e.catalog.LookupPlan(state.Plan)
	if err != nil {
		e.logger.WithError(err).WithField("tenant_id", tenantID).Error("Subscription references unknown plan")
		d := entitlement.Deny(entitlement.ReasonSubscriptionInactive)
		return state, plans.Plan{}, &d, nil
	}
	return state, plan, nil, nil
}

// Release returns the unit taken by reservation for an action that did not
// happen. Each reservation is released at most once; unknown or repeated
// releases return subscription.ErrReservationNotFound and change nothing. It
// is skipped when a transition has since replaced the state, so a stale
// release can only under-count.
func (e *Enforcer) Release(ctx context.Context, tenantID string, kind Kind, reservation Reservation) error {
	log := e.logger.WithFields(logrus.Fields{
		"tenant_id":      tenantID,
		"kind":           kind,
		"version":        reservation.Version,
		"reservation_id": reservation.ID,
	})
	if reservation.ID == "" {
		return fmt.Errorf("%w: empty reservation id", subscription.ErrReservationNotFound)
	}

	used, err := e.store.DecrementUsage(ctx, tenantID, reservation.Version, reservation.ID)
	switch {
	case err == nil:
		log.WithField("used", used).Debug("Released reserved unit")
		return nil
	case errors.Is(err, subscription.ErrVersionConflict), errors.Is(err, subscription.ErrNotFound):
		log.Debug("Skipped release for replaced subscription state")
		return nil
	case errors.Is(err, subscription.ErrReservationNotFound):
		log.Warn("Rejected release of unknown reservation")
		return fmt.Errorf("%w: %s", subscription.ErrReservationNotFound, reservation.ID)
	default:
		return entitlement.Unavailable("failed to release usage", err)
	}
}

// CheckSecondary decides whether the tenant may add one more of resource.
// It reserves nothing; the count comes from the Counter collaborator.
func (e *Enforcer) CheckSecondary(ctx context.Context, tenantID string, resource Resource) (entitlement.Decision, error) {
	state, plan, decision, err := e.resolve(ctx, tenantID, false)
	if err != nil {
		return entitlement.Decision{}, err
	}
	if decision != nil {
		return *decision, nil
	}

	if plan.SecondaryUnlimited() {
		return entitlement.Decision{Allowed: true, Reason: entitlement.ReasonOK, Limit: plans.Unlimited, Version: state.Version}, nil
	}
	if e.counter == nil {
		return entitlement.Decision{}, fmt.Errorf("no counter configured for %s", resource)
	}

	count, err := e.counter.CountActive(ctx, tenantID, resource)
	if err != nil {
		return entitlement.Decision{}, entitlement.Unavailable("failed to count "+string(resource), err)
	}

	limit := int64(plan.MaxSecondaryResource)
	if count < limit {
		return entitlement.Decision{Allowed: true, Reason: entitlement.ReasonOK, Used: count, Limit: limit, Version: state.Version}, nil
	}
	d := entitlement.QuotaExceeded(count, limit)
	d.Version = state.Version
	return d, nil
}

func (e *Enforcer) conflict(op string, log *logrus.Entry, attempt int) {
	if e.observer != nil {
		e.observer.ObserveConflict(op)
	}
	log.WithField("attempt", attempt).Debug("Subscription changed during reservation, retrying")
}
