package billingapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billingapi"
)

func TestListAudit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tenantID := uuid.New()
	storage := audit.NewMemoryStorage()
	for range 3 {
		require.NoError(t, storage.Store(ctx, audit.NewEvent("subscription.renewed",
			audit.WithTenant(tenantID.String()),
			audit.WithEntity("subscription", "sub_1"),
		)))
	}
	require.NoError(t, storage.Store(ctx, audit.NewEvent("invoice.paid",
		audit.WithTenant(tenantID.String()),
		audit.WithEntity("invoice", "inv_1"),
	)))
	require.NoError(t, storage.Store(ctx, audit.NewEvent("subscription.renewed", audit.WithTenant(uuid.NewString()))))

	_, _, h := newAPI(billingapi.WithAuditReader(audit.NewReader(storage)))
	base := "/tenants/" + tenantID.String() + "/audit"

	t.Run("tenant scoped with default page", func(t *testing.T) {
		t.Parallel()
		rec, env := serve(t, h, http.MethodGet, base, "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[billingapi.AuditPage](t, env)
		assert.Len(t, page.Events, 4)
		assert.Equal(t, int64(4), page.Total)
		assert.Equal(t, 50, page.Limit)
	})

	t.Run("filters and paging", func(t *testing.T) {
		t.Parallel()
		rec, env := serve(t, h, http.MethodGet, base+"?entity_type=subscription&limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[billingapi.AuditPage](t, env)
		assert.Len(t, page.Events, 2)
		assert.Equal(t, int64(3), page.Total)
		for _, e := range page.Events {
			assert.Equal(t, "subscription", e.EntityType)
		}
	})

	t.Run("empty result is a list", func(t *testing.T) {
		t.Parallel()
		rec, env := serve(t, h, http.MethodGet, base+"?action=nothing", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"events":[],"total":0,"limit":50,"offset":0}`, string(env.Data))
	})

	t.Run("invalid query", func(t *testing.T) {
		t.Parallel()
		rec, _ := serve(t, h, http.MethodGet, base+"?limit=500", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		rec, _ = serve(t, h, http.MethodGet, base+"?entity_type=tenant", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		rec, _ = serve(t, h, http.MethodGet, base+"?limit=many", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
