package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Verify reports whether signature is the hex-encoded HMAC-SHA256 of body
// under secret.
//
// Both the expected and the supplied signature are hashed to fixed-width
// digests before the constant-time comparison, so a signature of the wrong
// length or one that is not hex costs the same as any other mismatch.
// The header value must be exactly the lowercase hex digest Sign returns; no
// prefix, case folding or whitespace trimming is applied.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	expected := sha256.Sum256([]byte(Sign(body, secret)))
	actual := sha256.Sum256([]byte(signature))

	return subtle.ConstantTimeCompare(expected[:], actual[:]) == 1
}

// Sign computes the HMAC-SHA256 signature for a body. Returns lowercase hex.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
