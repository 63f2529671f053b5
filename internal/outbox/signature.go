package outbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes an HMAC-SHA256 signature over the raw payload using the
// webhook subscriber's secret, the same convention GitHub/Stripe-style
// webhook consumers expect: a hex-encoded digest, which the dispatcher
// sends as "sha256=<hex>" in an X-Signature header.
// Standard library crypto/hmac + crypto/sha256 is used deliberately —
// no library in the retrieval pack provides webhook request signing.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
