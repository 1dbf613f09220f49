package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	basicPlan = subscription.Plan{
		ID:           "basic",
		Slug:         "basico",
		Name:         "Básico",
		MonthlyPrice: 5990,
		YearlyPrice:  59900,
		Currency:     "BRL",
		TrialDays:    14,
		Limits: map[subscription.Resource]int64{
			subscription.ResourceProfessionals: 2,
			subscription.ResourceAppointments:  100,
			subscription.ResourceClients:       subscription.Unlimited,
		},
		Features: []subscription.Feature{subscription.FeatureOnlineBooking},
		Active:   true,
		Public:   true,
		Version:  1,
		GatewayPrices: map[subscription.BillingCycle]string{
			subscription.CycleMonthly: "price_basic_monthly",
		},
	}
	proPlan = subscription.Plan{
		ID:           "pro",
		Name:         "Profissional",
		MonthlyPrice: 11990,
		YearlyPrice:  119900,
		Currency:     "BRL",
		TrialDays:    14,
		Limits: map[subscription.Resource]int64{
			subscription.ResourceProfessionals: 10,
			subscription.ResourceAppointments:  subscription.Unlimited,
			subscription.ResourceClients:       subscription.Unlimited,
		},
		Features: []subscription.Feature{subscription.FeatureOnlineBooking, subscription.FeatureReports},
		Active:   true,
		Public:   true,
		Version:  1,
	}
	legacyPlan = subscription.Plan{
		ID:           "legacy",
		Name:         "Legacy",
		MonthlyPrice: 2990,
		Currency:     "BRL",
		Active:       false,
	}
)

type fixture struct {
	clock    *testClock
	store    *subscription.MemoryStore
	gw       *gateway.Simulated
	tenants  *tenant.MemoryProvider
	svc      *subscription.Service
	tenantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	catalog, err := subscription.NewCatalog(context.Background(), subscription.StaticPlans{basicPlan, proPlan, legacyPlan})
	require.NoError(t, err)

	tenantID := uuid.New()
	tenants := tenant.NewMemoryProvider(tenant.Tenant{
		ID:         tenantID,
		Name:       "Salão Bela Vista",
		OwnerName:  "Ana Souza",
		OwnerEmail: "ana@belavista.com.br",
		Active:     true,
	})

	store := subscription.NewMemoryStore(nil)
	gw := gateway.NewSimulated(gateway.SimulatedConfig{}, gateway.WithSimulatedClock(clock.Now))
	svc := subscription.NewService(store, catalog, gw, tenants, subscription.WithClock(clock.Now))

	return &fixture{clock: clock, store: store, gw: gw, tenants: tenants, svc: svc, tenantID: tenantID}
}

func (f *fixture) now() time.Time { return f.clock.Now() }

// activeSubscription builds an active monthly basic subscription in the middle of its period.
func (f *fixture) activeSubscription() *subscription.Subscription {
	now := f.now()
	start := now.AddDate(0, 0, -20)
	end := start.AddDate(0, 1, 0)
	lastPayment := start
	trialEnd := start
	return &subscription.Subscription{
		ID:                 uuid.New(),
		TenantID:           f.tenantID,
		PlanID:             basicPlan.ID,
		Plan:               basicPlan.Snapshot(),
		Status:             subscription.StatusActive,
		BillingCycle:       subscription.CycleMonthly,
		PaymentMethod:      subscription.PaymentCard,
		Amount:             basicPlan.Price(subscription.CycleMonthly),
		StartedAt:          start.AddDate(0, 0, -14),
		TrialEndsAt:        &trialEnd,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		NextBillingAt:      &end,
		LastPaymentAt:      &lastPayment,
		GracePeriodDays:    7,
		Usage:              map[subscription.Resource]int64{},
		Metadata:           subscription.Metadata{Version: subscription.MetadataVersion},
		CreatedAt:          start,
		UpdatedAt:          start,
	}
}

func (f *fixture) seed(t *testing.T, sub *subscription.Subscription) *subscription.Subscription {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		return tx.InsertSubscription(ctx, sub)
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := f.svc.GetSubscriptionByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) auditFor(t *testing.T, entityType, entityID string) []audit.Event {
	t.Helper()
	events, err := f.store.Audit().Query(context.Background(), audit.Criteria{EntityType: entityType, EntityID: entityID})
	require.NoError(t, err)
	return events
}

func (f *fixture) accessFlag(t *testing.T) bool {
	t.Helper()
	access, ok := f.store.TenantAccess(f.tenantID)
	require.True(t, ok, "tenant access flag was never written")
	return access.Active
}

func ptr[T any](v T) *T { return &v }
