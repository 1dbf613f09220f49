package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

func TestSignPayload(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	t.Run("matches manual hmac", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.SignPayload("secret", payload, at)
		require.NoError(t, err)

		h := hmac.New(sha256.New, []byte("secret"))
		h.Write([]byte(fmt.Sprintf("%d.%s", at.Unix(), payload)))
		assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sig.Signature)
		assert.Equal(t, at.Unix(), sig.Timestamp)
	})

	t.Run("requires secret and payload", func(t *testing.T) {
		t.Parallel()

		_, err := webhook.SignPayload("", payload, at)
		assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)

		_, err = webhook.SignPayload("secret", nil, at)
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)
	sig, err := webhook.SignPayload("secret", payload, at)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, webhook.VerifySignature("secret", payload, sig, 5*time.Minute, at.Add(time.Minute)))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		err := webhook.VerifySignature("other", payload, sig, 5*time.Minute, at)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		err := webhook.VerifySignature("secret", []byte(`{"id":"evt_2"}`), sig, 5*time.Minute, at)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("too old", func(t *testing.T) {
		t.Parallel()
		err := webhook.VerifySignature("secret", payload, sig, 5*time.Minute, at.Add(10*time.Minute))
		assert.ErrorIs(t, err, webhook.ErrSignatureExpired)
	})

	t.Run("from the future", func(t *testing.T) {
		t.Parallel()
		err := webhook.VerifySignature("secret", payload, sig, 5*time.Minute, at.Add(-10*time.Minute))
		assert.ErrorIs(t, err, webhook.ErrSignatureExpired)
	})

	t.Run("zero tolerance skips age check", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, webhook.VerifySignature("secret", payload, sig, 0, at.Add(48*time.Hour)))
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		err := webhook.VerifySignature("secret", payload, webhook.SignatureHeaders{Timestamp: at.Unix()}, 0, at)
		assert.ErrorIs(t, err, webhook.ErrMissingSignature)
	})
}

func TestParseSignatureHeader(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		in := webhook.SignatureHeaders{Signature: "abc123", Timestamp: 1700000000}
		out, err := webhook.ParseSignatureHeader(in.String())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("ignores unknown keys", func(t *testing.T) {
		t.Parallel()

		out, err := webhook.ParseSignatureHeader("t=1700000000, v0=old, v1=abc")
		require.NoError(t, err)
		assert.Equal(t, "abc", out.Signature)
	})

	cases := map[string]error{
		"":                 webhook.ErrMissingSignature,
		"garbage":          webhook.ErrMalformedSignature,
		"t=abc,v1=ff":      webhook.ErrMalformedSignature,
		"t=1700000000":     webhook.ErrMalformedSignature,
		"v1=ff":            webhook.ErrMalformedSignature,
		"t=1700000000,v1=": webhook.ErrMalformedSignature,
	}
	for header, want := range cases {
		t.Run("rejects "+header, func(t *testing.T) {
			t.Parallel()
			_, err := webhook.ParseSignatureHeader(header)
			assert.ErrorIs(t, err, want)
		})
	}
}
