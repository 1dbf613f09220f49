package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	return m.Called(ctx, params).Error(0)
}

var owner = tenant.Tenant{
	ID:         uuid.MustParse("5b1f6f0e-56f7-4d55-9a4e-0c8f5a1d2e01"),
	Name:       "Studio Bela",
	OwnerName:  "Ana Souza",
	OwnerEmail: "ana@studiobela.com.br",
	Active:     true,
}

func reminder() notify.Notification {
	return notify.Notification{
		Kind:           notify.KindRenewalReminder,
		TenantID:       owner.ID,
		SubscriptionID: uuid.New(),
		PlanName:       "Básico",
		Amount:         5990,
		Currency:       "BRL",
		DueAt:          time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	br := notify.FormatMoney(notify.NewPrinter("pt-BR"), 5990, "BRL")
	assert.Contains(t, br, "R$")
	assert.Contains(t, br, "59,90")

	us := notify.FormatMoney(notify.NewPrinter("en"), 5990, "USD")
	assert.Contains(t, us, "$")
	assert.Contains(t, us, "59.90")

	unknown := notify.FormatMoney(notify.NewPrinter("en"), 5990, "???")
	assert.Contains(t, unknown, "???")
}

func TestEmailNotifier(t *testing.T) {
	t.Parallel()

	t.Run("sends the renewal reminder to the owner", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == owner.OwnerEmail &&
				p.Tag == string(notify.KindRenewalReminder) &&
				p.Subject == "Sua assinatura Básico renova em 13/03/2026"
		})).Return(nil).Once()

		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), sender)
		require.NoError(t, n.Notify(context.Background(), reminder()))
		sender.AssertExpectations(t)
	})

	t.Run("body content", func(t *testing.T) {
		t.Parallel()
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), &mockSender{})

		msg, err := n.Compose(context.Background(), owner.Contact(), reminder())
		require.NoError(t, err)
		assert.Contains(t, msg.HTML, "Olá, Ana Souza")
		assert.Contains(t, msg.HTML, "59,90")
		assert.Contains(t, msg.HTML, "13/03/2026")
	})

	t.Run("english", func(t *testing.T) {
		t.Parallel()
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), &mockSender{}, notify.WithLanguage("en-US"))

		msg, err := n.Compose(context.Background(), owner.Contact(), reminder())
		require.NoError(t, err)
		assert.Equal(t, "Your Básico subscription renews on Mar 13, 2026", msg.Subject)
		assert.Contains(t, msg.HTML, "Hi Ana Souza")
	})

	t.Run("payment failure carries the reason", func(t *testing.T) {
		t.Parallel()
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), &mockSender{})
		in := reminder()
		in.Kind = notify.KindPaymentFailed
		in.Reason = "cartão <recusado>"

		msg, err := n.Compose(context.Background(), owner.Contact(), in)
		require.NoError(t, err)
		assert.Equal(t, "Não conseguimos processar seu pagamento", msg.Subject)
		assert.Contains(t, msg.HTML, "cartão &lt;recusado&gt;")
	})

	t.Run("every kind renders", func(t *testing.T) {
		t.Parallel()
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), &mockSender{})
		for _, kind := range []notify.Kind{notify.KindRenewalReminder, notify.KindTrialEnded, notify.KindPaymentFailed, notify.KindSuspended} {
			in := reminder()
			in.Kind = kind
			msg, err := n.Compose(context.Background(), owner.Contact(), in)
			require.NoError(t, err, kind)
			assert.NotEmpty(t, msg.Subject, kind)
			assert.Contains(t, msg.HTML, "Básico", kind)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), &mockSender{})
		in := reminder()
		in.Kind = "welcome"

		_, err := n.Compose(context.Background(), owner.Contact(), in)
		assert.ErrorIs(t, err, notify.ErrUnknownKind)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(), sender)

		err := n.Notify(context.Background(), reminder())
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
		sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("sender failure is returned", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(errors.Join(email.ErrFailedToSendEmail, errors.New("422")))
		n := notify.NewEmailNotifier(tenant.NewMemoryProvider(owner), sender)

		assert.ErrorIs(t, n.Notify(context.Background(), reminder()), email.ErrFailedToSendEmail)
	})

	t.Run("panics without dependencies", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { notify.NewEmailNotifier(nil, &mockSender{}) })
		assert.Panics(t, func() { notify.NewEmailNotifier(tenant.NewMemoryProvider(), nil) })
	})
}
