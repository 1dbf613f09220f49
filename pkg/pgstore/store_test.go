package pgstore_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/settlement"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

// newTestPool connects to BILLING_TEST_DATABASE_URL and applies the migrations.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("BILLING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BILLING_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{ConnectionString: url, MaxOpenConns: 4, RetryAttempts: 1, RetryInterval: time.Second}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, slog.Default()))
	return pool
}

func newSubscription(tenantID uuid.UUID, now time.Time) *subscription.Subscription {
	end := now.AddDate(0, 1, 0)
	return &subscription.Subscription{
		ID:       uuid.New(),
		TenantID: tenantID,
		PlanID:   "basic",
		Plan: subscription.PlanSnapshot{
			Version: 1, PlanID: "basic", PlanVersion: 1, Name: "Básico",
			MonthlyPrice: 5990, YearlyPrice: 59900, Currency: "BRL",
			Limits: map[subscription.Resource]int64{subscription.ResourceProfessionals: 2},
		},
		Status:             subscription.StatusActive,
		BillingCycle:       subscription.CycleMonthly,
		PaymentMethod:      subscription.PaymentCard,
		Amount:             subscription.Money{Amount: 5990, Currency: "BRL"},
		StartedAt:          now,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &end,
		GracePeriodDays:    7,
		Usage:              map[subscription.Resource]int64{subscription.ResourceProfessionals: 1},
		Metadata:           subscription.Metadata{Version: subscription.MetadataVersion, CancelAtPeriodEnd: true},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestSubscriptionStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	stores := pgstore.New(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tenantID := uuid.New()
	require.NoError(t, stores.Tenants.SaveProfile(ctx, tenant.Tenant{
		ID: tenantID, Name: "Studio Bela", OwnerName: "Ana Souza", OwnerEmail: "ana@studiobela.com.br",
	}))

	sub := newSubscription(tenantID, now)
	err := stores.Subscriptions.WithTx(ctx, func(ctx context.Context, tx subscription.Tx) error {
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}
		n, err := tx.NextInvoiceNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		inv := &invoice.Invoice{
			ID: uuid.New(), TenantID: tenantID, SubscriptionID: sub.ID,
			Number: invoice.FormatNumber(now.Year(), n), Status: invoice.StatusPending,
			Purpose: invoice.PurposePix, Currency: "BRL", Total: 5990, Subtotal: 5990,
			Items:     []invoice.Item{{Description: "Básico", Quantity: 1, UnitAmount: 5990}},
			Pix:       &invoice.Pix{ChargeID: "pix_" + sub.ID.String(), Payload: "000201", ExpiresAt: now.Add(24 * time.Hour)},
			CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.SetTenantAccess(ctx, tenantID, false, now); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.NewEvent("subscription.created",
			audit.WithTenant(tenantID.String()), audit.WithEntity("subscription", sub.ID.String())))
	})
	require.NoError(t, err)

	got, err := stores.Subscriptions.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Plan, got.Plan)
	assert.Equal(t, sub.Usage, got.Usage)
	assert.True(t, got.Metadata.CancelAtPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(*got.CurrentPeriodEnd))

	current, err := stores.Subscriptions.FindCurrentByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, current.ID)

	yes := true
	listed, err := stores.Subscriptions.ListSubscriptions(ctx, subscription.SubscriptionFilter{TenantID: tenantID, CancelAtPeriodEnd: &yes})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	inv, err := stores.Subscriptions.FindInvoiceByGatewayCharge(ctx, "pix_"+sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(5990), inv.AmountDue())
	require.NotNil(t, inv.Pix)

	ten, err := stores.Tenants.GetTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ten.Active)
	assert.NotNil(t, ten.BlockedAt)

	events, err := stores.Audit.Query(ctx, audit.Criteria{EntityID: sub.ID.String()})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	t.Run("rollback discards every write", func(t *testing.T) {
		boom := errors.New("boom")
		err := stores.Subscriptions.WithTx(ctx, func(ctx context.Context, tx subscription.Tx) error {
			locked, err := tx.LockSubscription(ctx, sub.ID)
			if err != nil {
				return err
			}
			locked.Status = subscription.StatusSuspended
			if err := tx.UpdateSubscription(ctx, locked); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		again, err := stores.Subscriptions.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, again.Status)
	})

	t.Run("second open subscription is rejected", func(t *testing.T) {
		err := stores.Subscriptions.WithTx(ctx, func(ctx context.Context, tx subscription.Tx) error {
			return tx.InsertSubscription(ctx, newSubscription(tenantID, now))
		})
		assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
	})

	t.Run("missing rows", func(t *testing.T) {
		_, err := stores.Subscriptions.GetSubscription(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
		_, err = stores.Subscriptions.GetInvoice(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrInvoiceNotFound)
		_, err = stores.Tenants.GetTenant(ctx, uuid.New())
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	})
}

func TestEventStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	store := pgstore.NewEventStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := &reconcile.WebhookEvent{
		Provider: "simulated", EventID: "evt_" + uuid.NewString(), Type: "payment.succeeded",
		Payload: []byte(`{"id":"evt"}`), UpdatedAt: now,
	}
	claimed, err := store.Begin(ctx, rec, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Begin(ctx, rec, now.Add(-time.Minute))
	assert.True(t, reconcile.IsDuplicate(err))

	next := now.Add(-time.Second)
	claimed.Status = reconcile.StatusFailed
	claimed.NextAttemptAt = &next
	claimed.LastError = "store unavailable"
	require.NoError(t, store.Save(ctx, claimed))

	due, err := store.ListDue(ctx, now, now.Add(-time.Minute), 100)
	require.NoError(t, err)
	found := false
	for _, d := range due {
		if d.EventID == rec.EventID {
			found = true
		}
	}
	assert.True(t, found)

	retried, err := store.Begin(ctx, rec, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Attempts)
	assert.Nil(t, retried.NextAttemptAt)

	_, err = store.Get(ctx, "simulated", "missing")
	assert.ErrorIs(t, err, reconcile.ErrEventNotFound)
}

func TestSettlementStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	store := pgstore.NewSettlementStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tenantID := uuid.New()
	serviceID := uuid.New()
	pro := &settlement.Professional{
		ID: uuid.New(), TenantID: tenantID, Name: "Carla",
		BaseCommission:     decimal.RequireFromString("40"),
		ServiceCommissions: map[uuid.UUID]decimal.Decimal{serviceID: decimal.RequireFromString("33.335")},
	}
	require.NoError(t, store.SaveProfessional(ctx, pro))

	gotPro, err := store.GetProfessional(ctx, tenantID, pro.ID)
	require.NoError(t, err)
	assert.True(t, gotPro.BaseCommission.Equal(pro.BaseCommission))
	assert.True(t, gotPro.ServiceCommissions[serviceID].Equal(decimal.RequireFromString("33.335")))

	split, err := settlement.Calculate(10000, pro.BaseCommission, 0)
	require.NoError(t, err)
	tr := &settlement.Transaction{
		ID: uuid.New(), TenantID: tenantID, AppointmentID: uuid.New(), ProfessionalID: pro.ID,
		ServiceID: serviceID, PaymentMethod: "pix", Status: settlement.StatusPending, Split: split,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertTransaction(ctx, tr))

	dup := *tr
	dup.ID = uuid.New()
	assert.ErrorIs(t, store.InsertTransaction(ctx, &dup), settlement.ErrTransactionExists)

	paid := *tr
	paid.Status = settlement.StatusPaid
	paid.PaidAt = &now
	require.NoError(t, store.UpdateTransaction(ctx, &paid, settlement.StatusPending))
	assert.ErrorIs(t, store.UpdateTransaction(ctx, &paid, settlement.StatusPending), settlement.ErrInvalidStatus)

	got, err := store.FindByAppointment(ctx, tenantID, tr.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.Split.ProfessionalAmount)
	assert.Equal(t, int64(6000), got.Split.SalonAmount)
	assert.True(t, got.Split.CommissionPercentage.Equal(decimal.RequireFromString("40")))
}
