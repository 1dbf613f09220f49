package billingapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billingapi"
	"github.com/dmitrymomot/billingkit/pkg/settlement"
)

func newSettlementAPI(t *testing.T) (http.Handler, uuid.UUID, uuid.UUID) {
	t.Helper()

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store := settlement.NewMemoryStore()
	tenantID := uuid.New()
	pro := &settlement.Professional{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           "Carla Mendes",
		BaseCommission: decimal.NewFromInt(40),
	}
	require.NoError(t, store.SaveProfessional(context.Background(), pro))

	svc := settlement.NewService(store, settlement.WithClock(func() time.Time { return now }))
	_, _, h := newAPI(billingapi.WithSettlement(svc))
	return h, tenantID, pro.ID
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestSettlementRoutes(t *testing.T) {
	t.Parallel()

	h, tenantID, proID := newSettlementAPI(t)
	base := "/tenants/" + tenantID.String()
	body := `{"appointment_id":"` + uuid.NewString() + `","professional_id":"` + proID.String() + `","amount":10000,"gateway_fee":300,"payment_method":"pix"}`

	rec, env := serve(t, h, http.MethodPost, base+"/transactions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	tx := decode[settlement.Transaction](t, env)
	assert.Equal(t, int64(4000), tx.Split.ProfessionalAmount)
	assert.Equal(t, int64(6000), tx.Split.SalonAmount)
	assert.Equal(t, int64(9700), tx.Split.NetAmount)

	rec, env = serve(t, h, http.MethodPost, base+"/transactions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, tx.ID, decode[settlement.Transaction](t, env).ID)

	txPath := base + "/transactions/" + tx.ID.String()

	rec, env = serve(t, h, http.MethodPost, txPath+"/recalculate", `{"amount":20000,"gateway_fee":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(8000), decode[settlement.Transaction](t, env).Split.ProfessionalAmount)

	rec, env = serve(t, h, http.MethodPost, txPath+"/paid", `{"charge_id":"pix_123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[billingapi.MutationResponse](t, env)
	assert.True(t, paid.Changed)
	assert.Equal(t, settlement.StatusPaid, paid.Transaction.Status)

	rec, env = serve(t, h, http.MethodPost, txPath+"/paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[billingapi.MutationResponse](t, env).Changed)

	rec, env = serve(t, h, http.MethodPost, txPath+"/recalculate", `{"amount":1000,"gateway_fee":0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_state", env.Error.Code)

	rec, env = serve(t, h, http.MethodGet, base+"/professionals/"+proID.String()+"/earnings?from=2026-03-01&to=2026-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	earnings := decode[settlement.Earnings](t, env)
	assert.Equal(t, 1, earnings.Transactions)
	assert.Equal(t, int64(8000), earnings.ProfessionalAmount)

	rec, _ = serve(t, h, http.MethodPost, txPath+"/refund", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/tenants/"+uuid.NewString()+"/transactions/"+tx.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettlementRequestErrors(t *testing.T) {
	t.Parallel()

	h, tenantID, proID := newSettlementAPI(t)
	base := "/tenants/" + tenantID.String()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"unknown professional", http.MethodPost, base + "/transactions",
			`{"appointment_id":"` + uuid.NewString() + `","professional_id":"` + uuid.NewString() + `","amount":100,"payment_method":"cash"}`,
			http.StatusNotFound},
		{"negative amount", http.MethodPost, base + "/transactions",
			`{"appointment_id":"` + uuid.NewString() + `","professional_id":"` + proID.String() + `","amount":-1,"payment_method":"cash"}`,
			http.StatusUnprocessableEntity},
		{"unknown transaction", http.MethodPost, base + "/transactions/" + uuid.NewString() + "/cancel", "", http.StatusNotFound},
		{"missing earnings range", http.MethodGet, base + "/professionals/" + proID.String() + "/earnings", "", http.StatusUnprocessableEntity},
		{"inverted earnings range", http.MethodGet, base + "/professionals/" + proID.String() + "/earnings?from=2026-03-10&to=2026-03-01", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, _ := serve(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("not mounted without settlement", func(t *testing.T) {
		t.Parallel()
		_, _, plain := newAPI()
		rec := httptest.NewRecorder()
		plain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/transactions/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
