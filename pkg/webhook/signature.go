package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the HTTP header carrying the signature of inbound billing webhooks.
const SignatureHeader = "X-Billing-Signature"

// SignatureHeaders contains a parsed webhook signature.
// On the wire it is encoded as "t=<unix>,v1=<hex>", the same layout Stripe uses.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
}

// String encodes the signature in header form.
func (s SignatureHeaders) String() string {
	return fmt.Sprintf("t=%d,v1=%s", s.Timestamp, s.Signature)
}

// SignPayload creates an HMAC-SHA256 signature bound to the given time.
// Signature format: HMAC-SHA256(secret, timestamp + "." + payload)
func SignPayload(secret string, payload []byte, at time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	ts := at.Unix()
	return SignatureHeaders{
		Signature: computeSignature(secret, ts, payload),
		Timestamp: ts,
	}, nil
}

// VerifySignature checks the signature with a constant-time comparison.
// A positive tolerance rejects signatures whose timestamp is further than
// tolerance from now in either direction.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	if headers.Signature == "" {
		return ErrMissingSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(headers.Timestamp, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: age %v", ErrSignatureExpired, age)
		}
	}

	expected := computeSignature(secret, headers.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(headers.Signature))) {
		return ErrSignatureMismatch
	}

	return nil
}

// ParseSignatureHeader decodes "t=<unix>,v1=<hex>".
// Unknown keys are ignored so schemes can be rotated without breaking receivers.
func ParseSignatureHeader(value string) (SignatureHeaders, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return SignatureHeaders{}, ErrMissingSignature
	}

	var sig SignatureHeaders
	for part := range strings.SplitSeq(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return SignatureHeaders{}, fmt.Errorf("%w: %q", ErrMalformedSignature, part)
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp", ErrMalformedSignature)
			}
			sig.Timestamp = ts
		case "v1":
			sig.Signature = val
		}
	}

	if sig.Signature == "" || sig.Timestamp == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: t and v1 are required", ErrMalformedSignature)
	}

	return sig, nil
}

func computeSignature(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
