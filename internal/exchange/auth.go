package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the HMAC-SHA256 signature of a query string using the
// account's API secret, hex-encoded, matching the exchange's signed-endpoint
// convention (spec.md §4.2): the raw query string is signed as-is and the
// resulting hex digest is appended as "&signature=...".
func Sign(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
