package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sign returns the hex encoded HMAC-SHA256 of payload. This is the scheme
// Razorpay and most gateways use for inbound notifications.
func Sign(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks signature against the HMAC of payload in constant time.
// Hex case is ignored.
func Verify(secret string, payload []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: signature is missing", ErrSignatureMismatch)
	}

	expected, err := Sign(secret, payload)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrSignatureMismatch
	}
	return nil
}
