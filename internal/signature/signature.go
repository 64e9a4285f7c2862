// Package signature signs outbound payloads and verifies inbound ones with HMAC-SHA256.
// The digest covers the exact bytes put on the wire.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed with secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares received against the digest of payload in constant time.
// A "sha256=" prefix on received is accepted.
func Verify(received, secret string, payload []byte) bool {
	sig := strings.ToLower(strings.TrimSpace(received))
	sig = strings.TrimPrefix(sig, prefix)
	if sig == "" || secret == "" {
		return false
	}

	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}
