// Package signature verifies GitHub-style HMAC signatures on incoming
// webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"githook-runner/internal/common/errors"
)

const headerPrefix = "sha256="

// Verifier checks X-Hub-Signature-256 headers against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the HMAC-SHA256 of body and compares it to the header
// value in constant time. Every failure mode maps to a signature error so
// callers respond 403 without leaking which check failed.
func (v *Verifier) Verify(body []byte, header string) error {
	if header == "" {
		return errors.SignatureError("missing signature header")
	}

	if !strings.HasPrefix(header, headerPrefix) {
		return errors.SignatureError("malformed signature header")
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(header, headerPrefix))
	if err != nil {
		return errors.SignatureError("malformed signature header")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return errors.SignatureError("signature mismatch")
	}

	return nil
}

// Sign computes the header value for body, used by the outbound
// notification sink and by tests.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return headerPrefix + hex.EncodeToString(mac.Sum(nil))
}
