package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
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

var basicPlan = subscription.Plan{
	ID:           "basic",
	Name:         "Básico",
	MonthlyPrice: 5990,
	YearlyPrice:  59900,
	Currency:     "BRL",
	TrialDays:    14,
	Limits: map[subscription.Resource]int64{
		subscription.ResourceProfessionals: 2,
	},
	Active:  true,
	Public:  true,
	Version: 1,
}

// unavailableEvents fails every Begin with err.
type unavailableEvents struct {
	reconcile.EventStore
	err error
}

func (u unavailableEvents) Begin(context.Context, *reconcile.WebhookEvent, time.Time) (*reconcile.WebhookEvent, error) {
	return nil, u.err
}

type fixture struct {
	clock    *testClock
	audit    *audit.MemoryStorage
	subs     *subscription.MemoryStore
	events   *reconcile.MemoryEventStore
	gw       *gateway.Simulated
	svc      *subscription.Service
	proc     *reconcile.Processor
	tenantID uuid.UUID
}

func newFixture(t *testing.T, opts ...reconcile.Option) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	catalog, err := subscription.NewCatalog(context.Background(), subscription.StaticPlans{basicPlan})
	require.NoError(t, err)

	tenantID := uuid.New()
	tenants := tenant.NewMemoryProvider(tenant.Tenant{
		ID:         tenantID,
		Name:       "Barbearia Centro",
		OwnerName:  "Carlos Lima",
		OwnerEmail: "carlos@centro.com.br",
		Active:     true,
	})

	auditStorage := audit.NewMemoryStorage()
	subs := subscription.NewMemoryStore(auditStorage)
	gw := gateway.NewSimulated(gateway.SimulatedConfig{}, gateway.WithSimulatedClock(clock.Now))
	svc := subscription.NewService(subs, catalog, gw, tenants, subscription.WithClock(clock.Now))
	events := reconcile.NewMemoryEventStore()

	base := []reconcile.Option{
		reconcile.WithProvider(gw),
		reconcile.WithClock(clock.Now),
		reconcile.WithAuditLogger(audit.NewLogger(auditStorage, audit.WithClock(clock.Now))),
	}
	proc := reconcile.NewProcessor(svc, events, append(base, opts...)...)

	return &fixture{
		clock:    clock,
		audit:    auditStorage,
		subs:     subs,
		events:   events,
		gw:       gw,
		svc:      svc,
		proc:     proc,
		tenantID: tenantID,
	}
}

func (f *fixture) now() time.Time { return f.clock.Now() }

// activeSubscription seeds an active monthly subscription linked to a gateway subscription.
func (f *fixture) activeSubscription(t *testing.T) *subscription.Subscription {
	t.Helper()

	now := f.now()
	start := now.AddDate(0, 0, -20)
	end := start.AddDate(0, 1, 0)
	sub := &subscription.Subscription{
		ID:                    uuid.New(),
		TenantID:              f.tenantID,
		PlanID:                basicPlan.ID,
		Plan:                  basicPlan.Snapshot(),
		Status:                subscription.StatusActive,
		BillingCycle:          subscription.CycleMonthly,
		PaymentMethod:         subscription.PaymentCard,
		Amount:                basicPlan.Price(subscription.CycleMonthly),
		StartedAt:             start,
		CurrentPeriodStart:    &start,
		CurrentPeriodEnd:      &end,
		NextBillingAt:         &end,
		LastPaymentAt:         &start,
		GracePeriodDays:       7,
		GatewayCustomerID:     "cus_centro",
		GatewaySubscriptionID: "sub_centro",
		Usage:                 map[subscription.Resource]int64{},
		Metadata:              subscription.Metadata{Version: subscription.MetadataVersion},
		CreatedAt:             start,
		UpdatedAt:             start,
	}
	err := f.subs.WithTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		return tx.InsertSubscription(ctx, sub)
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) deliver(t *testing.T, eventID string, evtType gateway.EventType, data gateway.EventData) ([]byte, string) {
	t.Helper()
	payload, sig, err := f.gw.BuildWebhook(eventID, evtType, data)
	require.NoError(t, err)
	return payload, sig
}

func (f *fixture) auditEntries(t *testing.T, c audit.Criteria) []audit.Event {
	t.Helper()
	events, err := f.audit.Query(context.Background(), c)
	require.NoError(t, err)
	return events
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := f.svc.GetSubscriptionByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}
