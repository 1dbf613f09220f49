package requestid_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, headers map[string]string) (seen string, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestid.FromContext(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generates an id", func(t *testing.T) {
		t.Parallel()
		id, rec := serve(t, requestid.Middleware(requestid.WithGenerator(func() string { return "gen-1" })), nil)
		assert.Equal(t, "gen-1", id)
		assert.Equal(t, "gen-1", rec.Header().Get(requestid.Header))
	})

	t.Run("reuses a valid incoming id", func(t *testing.T) {
		t.Parallel()
		id, rec := serve(t, requestid.Middleware(), map[string]string{requestid.Header: "550e8400-e29b-41d4-a716-446655440000"})
		assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id)
		assert.Equal(t, id, rec.Header().Get(requestid.Header))
	})

	t.Run("replaces invalid ids", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{
			"evt@1",
			"two words",
			"a/b",
			"<script>alert(1)</script>",
			string(bytes.Repeat([]byte("a"), 129)),
		} {
			id, _ := serve(t, requestid.Middleware(), map[string]string{requestid.Header: bad})
			assert.NotEqual(t, bad, id)
			assert.NotEmpty(t, id)
		}
	})

	t.Run("reads gateway delivery headers in order", func(t *testing.T) {
		t.Parallel()
		mw := requestid.Middleware(requestid.WithHeaders("X-Delivery-ID", requestid.Header))

		id, rec := serve(t, mw, map[string]string{"X-Delivery-ID": "dlv_42", requestid.Header: "req_1"})
		assert.Equal(t, "dlv_42", id)
		assert.Equal(t, "dlv_42", rec.Header().Get(requestid.Header))

		id, _ = serve(t, mw, map[string]string{"X-Delivery-ID": "bad id", requestid.Header: "req_1"})
		assert.Equal(t, "req_1", id)
	})
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	_, ok := requestid.FromContext(context.Background())
	assert.False(t, ok)

	_, ok = requestid.FromContext(requestid.WithContext(context.Background(), ""))
	assert.False(t, ok)

	id, ok := requestid.FromContext(requestid.WithContext(context.Background(), "req_7"))
	assert.True(t, ok)
	assert.Equal(t, "req_7", id)
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithLevel(slog.LevelInfo),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)

	log.InfoContext(requestid.WithContext(context.Background(), "req_9"), "charge created")
	assert.Contains(t, buf.String(), `"request_id":"req_9"`)

	buf.Reset()
	log.InfoContext(context.Background(), "charge created")
	assert.NotContains(t, buf.String(), "request_id")
}
