package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/reconcile"
)

func TestMemoryEventStore(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	newRecord := func(id string) *reconcile.WebhookEvent {
		return &reconcile.WebhookEvent{Provider: "simulated", EventID: id, Type: "payment.succeeded", Payload: []byte(`{}`), UpdatedAt: now}
	}

	t.Run("begin inserts once", func(t *testing.T) {
		t.Parallel()

		store := reconcile.NewMemoryEventStore()
		ctx := context.Background()

		rec, err := store.Begin(ctx, newRecord("evt_1"), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusProcessing, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
		assert.Equal(t, now, rec.ReceivedAt)

		_, err = store.Begin(ctx, newRecord("evt_1"), time.Time{})
		var dup *reconcile.DuplicateEventError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, reconcile.StatusProcessing, dup.Status)
		assert.ErrorIs(t, err, reconcile.ErrDuplicateEvent)

		// same event id from another provider is a different delivery
		other := newRecord("evt_1")
		other.Provider = "stripe"
		_, err = store.Begin(ctx, other, time.Time{})
		assert.NoError(t, err)
	})

	t.Run("failed records are taken over", func(t *testing.T) {
		t.Parallel()

		store := reconcile.NewMemoryEventStore()
		ctx := context.Background()

		rec, err := store.Begin(ctx, newRecord("evt_1"), time.Time{})
		require.NoError(t, err)
		next := now.Add(time.Minute)
		rec.Status = reconcile.StatusFailed
		rec.NextAttemptAt = &next
		require.NoError(t, store.Save(ctx, rec))

		due, err := store.ListDue(ctx, now, time.Time{}, 0)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = store.ListDue(ctx, next, time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, due, 1)

		again, err := store.Begin(ctx, due[0], time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 2, again.Attempts)
		assert.Equal(t, reconcile.StatusProcessing, again.Status)
		assert.Nil(t, again.NextAttemptAt)
	})

	t.Run("final records stay duplicates", func(t *testing.T) {
		t.Parallel()

		store := reconcile.NewMemoryEventStore()
		ctx := context.Background()

		for _, status := range []reconcile.Status{reconcile.StatusProcessed, reconcile.StatusSkipped, reconcile.StatusRejected, reconcile.StatusDead} {
			rec, err := store.Begin(ctx, newRecord(string(status)), time.Time{})
			require.NoError(t, err)
			rec.Status = status
			require.NoError(t, store.Save(ctx, rec))

			_, err = store.Begin(ctx, newRecord(string(status)), now.Add(time.Hour))
			assert.ErrorIs(t, err, reconcile.ErrDuplicateEvent, status)
			assert.True(t, status.Final())
		}
	})

	t.Run("reads are copies", func(t *testing.T) {
		t.Parallel()

		store := reconcile.NewMemoryEventStore()
		ctx := context.Background()

		rec, err := store.Begin(ctx, newRecord("evt_1"), time.Time{})
		require.NoError(t, err)
		rec.Payload[0] = 'x'
		rec.Status = reconcile.StatusDead

		got, err := store.Get(ctx, "simulated", "evt_1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{}`), got.Payload)
		assert.Equal(t, reconcile.StatusProcessing, got.Status)
	})

	t.Run("missing records", func(t *testing.T) {
		t.Parallel()

		store := reconcile.NewMemoryEventStore()
		_, err := store.Get(context.Background(), "simulated", "nope")
		assert.ErrorIs(t, err, reconcile.ErrEventNotFound)
		assert.ErrorIs(t, store.Save(context.Background(), newRecord("nope")), reconcile.ErrEventNotFound)
	})
}
