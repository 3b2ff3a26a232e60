// Package keyid derives stable display identities for gateway api keys.
// Raw key material must never reach the store, logs, or API responses, but
// the dashboard still needs to group traffic per key. Masking keeps the
// grouping stable without retaining the secret.
package keyid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaskThreshold is the longest token passed through unmasked. Sentinels and
// short display names stay readable; anything key-sized gets reduced.
const MaskThreshold = 16

// Mask reduces key material to "prefix…hash8": the first eight characters
// for operator recognition plus eight hex characters of the key's SHA-256
// so distinct keys sharing a prefix stay distinguishable. Tokens at or
// below the threshold, and values that are already masked, pass through
// unchanged.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= MaskThreshold || strings.Contains(key, "…") {
		return key
	}

	sum := sha256.Sum256([]byte(key))
	return key[:8] + "…" + hex.EncodeToString(sum[:4])
}
