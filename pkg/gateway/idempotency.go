package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdempotencyKey derives a stable key from the parts identifying one logical
// remote write. Retrying the same write yields the same key, so the gateway
// returns the original resource instead of creating a second one.
//
//	key := gateway.IdempotencyKey("subscription", tenantID, planID, string(cycle))
func IdempotencyKey(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:40]
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingIdempotencyKey
	}
	return nil
}
