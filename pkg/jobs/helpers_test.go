package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/jobs"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

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

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	now      time.Time
	subs     *subscription.MemoryStore
	svc      *subscription.Service
	notified *recorder
	tenantID uuid.UUID
	cfg      jobs.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	catalog, err := subscription.NewCatalog(context.Background(), subscription.StaticPlans{basicPlan})
	require.NoError(t, err)

	tenantID := uuid.New()
	tenants := tenant.NewMemoryProvider(tenant.Tenant{
		ID:         tenantID,
		Name:       "Studio Bela",
		OwnerName:  "Ana Souza",
		OwnerEmail: "ana@studiobela.com.br",
		Active:     true,
	})

	subs := subscription.NewMemoryStore(nil)
	clock := func() time.Time { return now }
	gw := gateway.NewSimulated(gateway.SimulatedConfig{}, gateway.WithSimulatedClock(clock))
	svc := subscription.NewService(subs, catalog, gw, tenants, subscription.WithClock(clock))

	return &fixture{now: now, subs: subs, svc: svc, notified: &recorder{}, tenantID: tenantID}
}

func (f *fixture) jobs(t *testing.T, opts ...jobs.Option) map[string]jobs.Job {
	t.Helper()
	base := []jobs.Option{
		jobs.WithClock(func() time.Time { return f.now }),
		jobs.WithNotifier(f.notified),
	}
	out := map[string]jobs.Job{}
	for _, j := range jobs.NewBillingJobs(f.svc, f.cfg, append(base, opts...)...) {
		out[j.Name()] = j
	}
	return out
}

func (f *fixture) run(t *testing.T, name string, dryRun bool) jobs.Report {
	t.Helper()
	j, ok := f.jobs(t)[name]
	require.True(t, ok, name)
	rep, err := j.Run(context.Background(), jobs.RunOptions{DryRun: dryRun})
	require.NoError(t, err)
	return rep
}

func ptr(t time.Time) *time.Time { return &t }

// subscription builds an active monthly subscription whose period ends at periodEnd.
func (f *fixture) subscription(status subscription.Status, periodEnd time.Time, mutate ...func(*subscription.Subscription)) *subscription.Subscription {
	start := periodEnd.AddDate(0, -1, 0)
	sub := &subscription.Subscription{
		ID:                 uuid.New(),
		TenantID:           f.tenantID,
		PlanID:             basicPlan.ID,
		Plan:               basicPlan.Snapshot(),
		Status:             status,
		BillingCycle:       subscription.CycleMonthly,
		PaymentMethod:      subscription.PaymentCard,
		Amount:             basicPlan.Price(subscription.CycleMonthly),
		StartedAt:          start,
		CurrentPeriodStart: ptr(start),
		CurrentPeriodEnd:   ptr(periodEnd),
		NextBillingAt:      ptr(periodEnd),
		LastPaymentAt:      ptr(start),
		GracePeriodDays:    7,
		UsageResetAt:       ptr(f.now),
		Usage:              map[subscription.Resource]int64{},
		Metadata:           subscription.Metadata{Version: subscription.MetadataVersion},
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	for _, m := range mutate {
		m(sub)
	}
	return sub
}

func (f *fixture) seed(t *testing.T, subs ...*subscription.Subscription) {
	t.Helper()
	err := f.subs.WithTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		for _, s := range subs {
			if err := tx.InsertSubscription(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) seedInvoice(t *testing.T, sub *subscription.Subscription, mutate func(*invoice.Invoice)) *invoice.Invoice {
	t.Helper()
	inv := &invoice.Invoice{
		ID:             uuid.New(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Status:         invoice.StatusPending,
		Purpose:        invoice.PurposeRenewal,
		PlanID:         sub.PlanID,
		Currency:       "BRL",
		Total:          5990,
		Subtotal:       5990,
		CreatedAt:      f.now.Add(-72 * time.Hour),
		UpdatedAt:      f.now.Add(-72 * time.Hour),
	}
	mutate(inv)
	err := f.subs.WithTx(context.Background(), func(ctx context.Context, tx subscription.Tx) error {
		return tx.InsertInvoice(ctx, inv)
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := f.svc.GetSubscriptionByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) invoice(t *testing.T, id uuid.UUID) *invoice.Invoice {
	t.Helper()
	inv, err := f.svc.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return inv
}
