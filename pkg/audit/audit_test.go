package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		e := audit.NewEvent("subscription.activated")
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "subscription.activated", e.Action)
		assert.Equal(t, audit.ResultSuccess, e.Result)
		assert.False(t, e.CreatedAt.IsZero())
		require.NoError(t, e.Validate())
	})

	t.Run("snapshots are stored as json", func(t *testing.T) {
		t.Parallel()

		before := map[string]string{"status": "trial"}
		after := map[string]string{"status": "active"}
		e := audit.NewEvent("subscription.payment_succeeded",
			audit.WithEntity("subscription", "sub-1"),
			audit.WithTenant("tenant-1"),
			audit.WithBefore(before),
			audit.WithAfter(after),
			audit.WithActor("stripe"),
			audit.WithSource(audit.SourceWebhook),
		)

		assert.Equal(t, "subscription", e.EntityType)
		assert.Equal(t, "sub-1", e.EntityID)
		assert.Equal(t, "tenant-1", e.TenantID)
		assert.Equal(t, "stripe", e.Actor)
		assert.Equal(t, audit.SourceWebhook, e.Source)
		assert.JSONEq(t, `{"status":"trial"}`, string(e.Before))
		assert.JSONEq(t, `{"status":"active"}`, string(e.After))
	})

	t.Run("raw message is kept as is", func(t *testing.T) {
		t.Parallel()

		e := audit.NewEvent("x", audit.WithAfter(json.RawMessage(`{"a":1}`)))
		assert.Equal(t, `{"a":1}`, string(e.After))
	})

	t.Run("unencodable snapshot is noted in metadata", func(t *testing.T) {
		t.Parallel()

		e := audit.NewEvent("x", audit.WithBefore(make(chan int)))
		assert.Nil(t, e.Before)
		assert.Contains(t, e.Metadata, "before_error")
	})

	t.Run("error flips result", func(t *testing.T) {
		t.Parallel()

		e := audit.NewEvent("x", audit.WithError(errors.New("declined")))
		assert.Equal(t, audit.ResultError, e.Result)
		assert.Equal(t, "declined", e.Error)

		ok := audit.NewEvent("x", audit.WithError(nil))
		assert.Equal(t, audit.ResultSuccess, ok.Result)
	})

	t.Run("time override", func(t *testing.T) {
		t.Parallel()

		at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		e := audit.NewEvent("x", audit.WithTime(at))
		assert.Equal(t, at, e.CreatedAt)
	})

	t.Run("validate", func(t *testing.T) {
		t.Parallel()

		e := audit.Event{ID: "1", CreatedAt: time.Now()}
		assert.ErrorIs(t, e.Validate(), audit.ErrEventValidation)
	})
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	storage := audit.NewMemoryStorage()

	for i, id := range []string{"sub-1", "sub-1", "sub-2", "inv-1"} {
		entity := "subscription"
		if id == "inv-1" {
			entity = "invoice"
		}
		require.NoError(t, storage.Store(ctx, audit.NewEvent("changed",
			audit.WithEntity(entity, id),
			audit.WithTenant("tenant-1"),
			audit.WithTime(base.Add(time.Duration(i)*time.Hour)),
		)))
	}

	t.Run("filters by entity", func(t *testing.T) {
		t.Parallel()

		events, err := storage.Query(ctx, audit.Criteria{EntityType: "subscription", EntityID: "sub-1"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("time window is half open", func(t *testing.T) {
		t.Parallel()

		events, err := storage.Query(ctx, audit.Criteria{StartTime: base.Add(time.Hour), EndTime: base.Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("paging", func(t *testing.T) {
		t.Parallel()

		events, err := storage.Query(ctx, audit.Criteria{Offset: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, base.Add(time.Hour), events[0].CreatedAt)
	})

	t.Run("rejects invalid events", func(t *testing.T) {
		t.Parallel()

		err := audit.NewMemoryStorage().Store(ctx, audit.Event{})
		assert.ErrorIs(t, err, audit.ErrEventValidation)
	})
}

func TestLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	at := time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)

	t.Run("fills tenant and actor from context", func(t *testing.T) {
		t.Parallel()

		storage := audit.NewMemoryStorage()
		logger := audit.NewLogger(storage, audit.WithClock(func() time.Time { return at }))

		ctx := audit.ContextWithActor(audit.ContextWithTenant(ctx, "tenant-9"), "paddle")
		require.NoError(t, logger.Log(ctx, "webhook.ignored", audit.WithSource(audit.SourceWebhook)))

		events := storage.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "tenant-9", events[0].TenantID)
		assert.Equal(t, "paddle", events[0].Actor)
		assert.Equal(t, at, events[0].CreatedAt)
	})

	t.Run("options win over context", func(t *testing.T) {
		t.Parallel()

		storage := audit.NewMemoryStorage()
		logger := audit.NewLogger(storage)

		ctx := audit.ContextWithActor(ctx, "system")
		require.NoError(t, logger.Log(ctx, "x", audit.WithActor("user-1")))
		assert.Equal(t, "user-1", storage.Events()[0].Actor)
	})

	t.Run("log error", func(t *testing.T) {
		t.Parallel()

		storage := audit.NewMemoryStorage()
		logger := audit.NewLogger(storage)

		require.NoError(t, logger.LogError(ctx, "webhook.rejected", errors.New("bad signature")))
		e := storage.Events()[0]
		assert.Equal(t, audit.ResultError, e.Result)
		assert.Equal(t, "bad signature", e.Error)
	})

	t.Run("custom extractor", func(t *testing.T) {
		t.Parallel()

		storage := audit.NewMemoryStorage()
		logger := audit.NewLogger(storage, audit.WithTenantIDExtractor(func(context.Context) (string, bool) {
			return "fixed", true
		}))

		require.NoError(t, logger.Log(ctx, "x"))
		assert.Equal(t, "fixed", storage.Events()[0].TenantID)
	})

	t.Run("nil storage panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { audit.NewLogger(nil) })
	})
}

func TestReader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := audit.NewMemoryStorage()
	for range 3 {
		require.NoError(t, storage.Store(ctx, audit.NewEvent("a", audit.WithTenant("t1"))))
	}
	require.NoError(t, storage.Store(ctx, audit.NewEvent("b", audit.WithTenant("t2"))))

	reader := audit.NewReader(storage)

	events, err := reader.Find(ctx, audit.Criteria{TenantID: "t1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	n, err := reader.Count(ctx, audit.Criteria{TenantID: "t1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// fallback path without StorageCounter
	n, err = audit.NewReader(queryOnly{storage}).Count(ctx, audit.Criteria{TenantID: "t1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

type queryOnly struct {
	s *audit.MemoryStorage
}

func (q queryOnly) Store(ctx context.Context, events ...audit.Event) error {
	return q.s.Store(ctx, events...)
}

func (q queryOnly) Query(ctx context.Context, c audit.Criteria) ([]audit.Event, error) {
	return q.s.Query(ctx, c)
}
