package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
	"github.com/platinummonkey/gatekeeper/pkg/transitions"
)

type decisionLog struct {
	mu      sync.Mutex
	reasons []string
}

func (d *decisionLog) ObserveDecision(module, reason string) {
	d.mu.Lock()
	d.reasons = append(d.reasons, module+":"+reason)
	d.mu.Unlock()
}

type fixture struct {
	guard   *Guard
	store   *subscription.MemoryStore
	catalog *plans.Catalog
	manager *transitions.Manager
	members *rbac.MemoryActorStore
	log     *decisionLog
}

func setup(t testing.TB) *fixture {
	t.Helper()
	catalog, err := plans.New("Professional",
		plans.Plan{Name: "Free", Default: true, MaxMeteredUnits: 5, MaxSecondaryResource: 2, Features: []plans.Feature{plans.FeatureOnlineBooking}},
		plans.Plan{Name: "Professional", MaxMeteredUnits: plans.Limit(plans.Unlimited), MaxSecondaryResource: 25, PriceCents: 4900,
			Features: []plans.Feature{plans.FeatureOnlineBooking, plans.FeatureFinancialAccess}},
	)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		store:   subscription.NewMemoryStore(),
		catalog: catalog,
		members: rbac.NewMemoryActorStore(),
		log:     &decisionLog{},
	}
	counter := quota.CounterFunc(func(ctx context.Context, tenantID string, _ quota.Resource) (int64, error) {
		return f.members.CountStaff(ctx, tenantID)
	})
	f.manager = transitions.NewManager(f.store, catalog, logger, transitions.Config{})
	enforcer := quota.NewEnforcer(f.store, catalog, logger, quota.WithCounter(counter), quota.WithRenewer(f.manager))
	f.guard = New(Config{
		Model:    rbac.NewModel("platform"),
		Enforcer: enforcer,
		Store:    f.store,
		Catalog:  catalog,
		Counter:  counter,
		Observer: f.log,
		Logger:   logger,
	})
	return f
}

func (f *fixture) onboard(t testing.TB, tenantID string, used int64) {
	t.Helper()
	res, err := f.manager.Onboard(context.Background(), tenantID)
	require.NoError(t, err)
	for i := int64(0); i < used; i++ {
		_, err := f.store.IncrementUsage(context.Background(), tenantID, subscription.NoCeiling, res.State.Version, "")
		require.NoError(t, err)
	}
}

func (f *fixture) onboardState(t testing.TB, tenantID string) *subscription.State {
	t.Helper()
	res, err := f.manager.Onboard(context.Background(), tenantID)
	require.NoError(t, err)
	return res.State
}

func (f *fixture) used(t *testing.T, tenantID string) int64 {
	t.Helper()
	state, err := f.store.Load(context.Background(), tenantID)
	require.NoError(t, err)
	return state.UsedUnits
}

var metered = &MeteredAction{Kind: quota.KindAppointment}

func TestAuthorize_NoActionAllowed(t *testing.T) {
	f := setup(t)
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}

	d, err := f.guard.Authorize(context.Background(), owner, rbac.ModuleReporting, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonOK, d.Reason)
	assert.Equal(t, []string{"reporting:ok"}, f.log.reasons)
}

func TestAuthorize_PermissionPrecedesQuota(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 2)
	staff := &rbac.Actor{UserID: "s", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{rbac.ModuleScheduling}}

	d, err := f.guard.Authorize(context.Background(), staff, rbac.ModuleFinancial, metered)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonPermissionDenied, d.Reason)
	assert.Equal(t, int64(2), f.used(t, "salon"), "a permission denial must not consume quota")
}

func TestAuthorize_StaffDeniedRegardlessOfPlan(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)
	_, err := f.manager.Upgrade(context.Background(), "salon")
	require.NoError(t, err)

	staff := &rbac.Actor{UserID: "s", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{rbac.ModuleScheduling}}
	for _, action := range []*MeteredAction{nil, metered} {
		d, err := f.guard.Authorize(context.Background(), staff, rbac.ModuleFinancial, action)
		require.NoError(t, err)
		assert.Equal(t, entitlement.ReasonPermissionDenied, d.Reason)
	}

	d, err := f.guard.Authorize(context.Background(), staff, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorize_OwnerWithDamagedPermissions(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)

	for _, perms := range []rbac.Permissions{nil, {}, {"garbage"}} {
		owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner, Permissions: perms}
		d, err := f.guard.Authorize(context.Background(), owner, rbac.ModuleFinancial, nil)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestAuthorize_NilActor(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)

	d, err := f.guard.Authorize(context.Background(), nil, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonPermissionDenied, d.Reason)
}

func TestAuthorize_QuotaExceeded(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 5)
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}

	d, err := f.guard.Authorize(context.Background(), owner, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.UpgradeRequired())
	assert.Equal(t, int64(5), d.Limit)
	assert.Equal(t, int64(5), f.used(t, "salon"))
}

func TestAuthorize_LastUnitRace(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 4)
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}

	var wg sync.WaitGroup
	results := make(chan entitlement.Decision, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.guard.Authorize(context.Background(), owner, rbac.ModuleScheduling, metered)
			assert.NoError(t, err)
			results <- d
		}()
	}
	wg.Wait()
	close(results)

	var ok, exceeded int
	for d := range results {
		switch d.Reason {
		case entitlement.ReasonOK:
			ok++
		case entitlement.ReasonQuotaExceeded:
			exceeded++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exceeded)
	assert.Equal(t, int64(5), f.used(t, "salon"))
}

func TestAuthorize_InactiveSubscription(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)
	_, err := f.manager.Deactivate(context.Background(), "salon")
	require.NoError(t, err)
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}

	d, err := f.guard.Authorize(context.Background(), owner, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonSubscriptionInactive, d.Reason)

	// Navigation without a metered action is still allowed.
	d, err = f.guard.Authorize(context.Background(), owner, rbac.ModuleScheduling, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorize_SecondaryResource(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)
	ctx := context.Background()
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}
	seat := &MeteredAction{Secondary: quota.ResourceStaff}

	require.NoError(t, f.members.GrantMembership(ctx, owner))
	require.NoError(t, f.members.GrantMembership(ctx, &rbac.Actor{UserID: "a", TenantID: "salon", Role: rbac.RoleStaff}))

	d, err := f.guard.Authorize(ctx, owner, rbac.ModuleStaffRecords, seat)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, f.members.GrantMembership(ctx, &rbac.Actor{UserID: "b", TenantID: "salon", Role: rbac.RoleStaff}))
	d, err = f.guard.Authorize(ctx, owner, rbac.ModuleStaffRecords, seat)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, int64(0), f.used(t, "salon"), "secondary checks do not touch the metered counter")
}

func TestRelease(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}
	ctx := context.Background()

	d, err := f.guard.Authorize(ctx, owner, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(1), f.used(t, "salon"))

	reservation := quota.ReservationOf(d)
	require.NoError(t, f.guard.Release(ctx, owner, rbac.ModuleScheduling, metered, reservation))
	assert.Equal(t, int64(0), f.used(t, "salon"))

	err = f.guard.Release(ctx, owner, rbac.ModuleScheduling, metered, reservation)
	assert.ErrorIs(t, err, subscription.ErrReservationNotFound)

	assert.ErrorIs(t, f.guard.Release(ctx, nil, rbac.ModuleScheduling, metered, reservation), entitlement.ErrPermissionDenied)
	assert.NoError(t, f.guard.Release(ctx, owner, rbac.ModuleScheduling, nil, reservation))
}

func TestRelease_RequiresModulePermission(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 0)
	ctx := context.Background()
	staff := &rbac.Actor{UserID: "s", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{rbac.ModuleScheduling}}
	outsider := &rbac.Actor{UserID: "n", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{}}

	d, err := f.guard.Authorize(ctx, staff, rbac.ModuleScheduling, metered)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	err = f.guard.Release(ctx, outsider, rbac.ModuleScheduling, metered, quota.ReservationOf(d))
	assert.ErrorIs(t, err, entitlement.ErrPermissionDenied)
	err = f.guard.Release(ctx, staff, rbac.ModuleFinancial, metered, quota.ReservationOf(d))
	assert.ErrorIs(t, err, entitlement.ErrPermissionDenied)
	assert.Equal(t, int64(1), f.used(t, "salon"))
}

func TestRelease_CannotRefillQuota(t *testing.T) {
	f := setup(t)
	state := f.onboardState(t, "salon")
	ctx := context.Background()
	staff := &rbac.Actor{UserID: "s", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{rbac.ModuleScheduling}}
	outsider := &rbac.Actor{UserID: "n", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{}}

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := f.guard.Authorize(ctx, staff, rbac.ModuleScheduling, metered)
		require.NoError(t, err)
		if d.Allowed {
			allowed++
			continue
		}
		forged := quota.Reservation{ID: "guess", Version: state.Version}
		_ = f.guard.Release(ctx, outsider, rbac.ModuleScheduling, metered, forged)
		_ = f.guard.Release(ctx, staff, rbac.ModuleScheduling, metered, forged)
	}
	assert.Equal(t, 5, allowed)
	assert.Equal(t, int64(5), f.used(t, "salon"))
}

type failingStore struct{ subscription.Store }

func (failingStore) Load(context.Context, string) (*subscription.State, error) {
	return nil, errors.New("i/o timeout")
}

func TestAuthorize_StoreFailureIsNotADenial(t *testing.T) {
	f := setup(t)
	enforcer := quota.NewEnforcer(failingStore{f.store}, f.catalog, nil)
	g := New(Config{Enforcer: enforcer, Store: failingStore{f.store}, Catalog: f.catalog})
	owner := &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}

	_, err := g.Authorize(context.Background(), owner, rbac.ModuleScheduling, metered)
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
	assert.True(t, entitlement.IsRetryable(err))
}

func TestEntitlementSummary(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 3)
	ctx := context.Background()
	require.NoError(t, f.members.GrantMembership(ctx, &rbac.Actor{UserID: "a", TenantID: "salon", Role: rbac.RoleStaff}))

	s, err := f.guard.EntitlementSummary(ctx, "salon")
	require.NoError(t, err)
	assert.Equal(t, "Free", s.Plan)
	assert.Equal(t, subscription.StatusFree, s.Status)
	assert.Equal(t, int64(3), s.Used)
	assert.Equal(t, int64(5), s.Max)
	assert.InDelta(t, 60.0, s.PercentUsed, 0.001)
	assert.Equal(t, []plans.Feature{plans.FeatureOnlineBooking}, s.Features)
	assert.Equal(t, int64(1), s.StaffUsed)
	assert.Equal(t, int64(2), s.StaffMax)
	assert.True(t, s.Upgradeable)
	assert.Equal(t, int64(3), f.used(t, "salon"), "summaries are read-only")

	_, err = f.manager.Upgrade(ctx, "salon")
	require.NoError(t, err)
	s, err = f.guard.EntitlementSummary(ctx, "salon")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPaid, s.Status)
	assert.Equal(t, int64(plans.Unlimited), s.Max)
	assert.Zero(t, s.PercentUsed)
	assert.False(t, s.Upgradeable)
	assert.Contains(t, s.Features, plans.FeatureFinancialAccess)

	_, err = f.guard.EntitlementSummary(ctx, "ghost")
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestEntitlementSummary_LapsedCycle(t *testing.T) {
	f := setup(t)
	f.onboard(t, "salon", 4)
	f.guard.now = func() time.Time { return time.Now().AddDate(0, 2, 0) }

	s, err := f.guard.EntitlementSummary(context.Background(), "salon")
	require.NoError(t, err)
	assert.Zero(t, s.Used)
	assert.Equal(t, int64(4), f.used(t, "salon"))
}
