package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/webhook"
)

func TestSign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secret  string
		payload []byte
		wantErr error
	}{
		{name: "valid", secret: "whsec", payload: []byte(`{"event":"payment.captured"}`)},
		{name: "empty secret", secret: "", payload: []byte(`{}`), wantErr: webhook.ErrInvalidConfiguration},
		{name: "empty payload", secret: "whsec", payload: []byte{}, wantErr: webhook.ErrInvalidPayload},
		{name: "nil payload", secret: "whsec", payload: nil, wantErr: webhook.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sig, err := webhook.Sign(tt.secret, tt.payload)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, sig)
				return
			}
			require.NoError(t, err)

			h := hmac.New(sha256.New, []byte(tt.secret))
			h.Write(tt.payload)
			assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sig)
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event":"subscription.charged","payload":{}}`)
	sig, err := webhook.Sign("whsec", payload)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, webhook.Verify("whsec", payload, sig))
	})

	t.Run("upper case hex", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, webhook.Verify("whsec", payload, strings.ToUpper(sig)))
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		err := webhook.Verify("whsec", []byte(`{"event":"subscription.charged","payload":{"x":1}}`), sig)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, webhook.Verify("other", payload, sig), webhook.ErrSignatureMismatch)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, webhook.Verify("whsec", payload, ""), webhook.ErrSignatureMismatch)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, webhook.Verify("", payload, sig), webhook.ErrInvalidConfiguration)
	})
}
