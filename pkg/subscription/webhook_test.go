package subscription_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/webhook"
)

const razorpaySecret = "rzp_test_secret"

func razorpayPayment(event, paymentID, userID, planID string, at time.Time) []byte {
	return fmt.Appendf(nil, `{
  "entity": "event",
  "account_id": "acc_BFQ7uQEaa7j2z7",
  "event": %q,
  "contains": ["payment"],
  "payload": {
    "payment": {
      "entity": {
        "id": %q,
        "entity": "payment",
        "amount": 49900,
        "currency": "INR",
        "status": "captured",
        "notes": {"user_id": %q, "plan_id": %q},
        "created_at": %d
      }
    }
  },
  "created_at": %d
}`, event, paymentID, userID, planID, at.Unix(), at.Unix())
}

func razorpaySubscriptionEvent(event, subID, userID string, at time.Time) []byte {
	return fmt.Appendf(nil, `{
  "entity": "event",
  "event": %q,
  "contains": ["subscription"],
  "payload": {
    "subscription": {
      "entity": {"id": %q, "entity": "subscription", "notes": {"user_id": %q}}
    }
  },
  "created_at": %d
}`, event, subID, userID, at.Unix())
}

func signRazorpay(t *testing.T, payload []byte) string {
	t.Helper()
	sig, err := webhook.Sign(razorpaySecret, payload)
	require.NoError(t, err)
	return sig
}

func newWebhookFixture(t *testing.T) *fixture {
	t.Helper()
	rzp, err := subscription.NewRazorpayProvider(subscription.RazorpayConfig{WebhookSecret: razorpaySecret})
	require.NoError(t, err)
	return newFixture(t, subscription.WithProvider(rzp))
}

func TestNewRazorpayProvider_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewRazorpayProvider(subscription.RazorpayConfig{})
	require.ErrorIs(t, err, subscription.ErrMissingWebhookSecret)
}

func TestManager_HandleWebhook_Razorpay(t *testing.T) {
	t.Parallel()

	t.Run("payment captured activates plan once", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		ctx := context.Background()

		payload := razorpayPayment("payment.captured", "pay_29QQoUBi66xm2f", "user-1", plans.PlanPro, t0)
		sig := signRazorpay(t, payload)

		event, err := f.mgr.HandleWebhook(ctx, subscription.ProviderRazorpay, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookPaymentSucceeded, event.Type)
		assert.Equal(t, "pay_29QQoUBi66xm2f", event.GatewayTxnID)
		assert.Equal(t, plans.Money{Amount: 49900, Currency: "INR"}, event.Amount)

		sub, err := f.mgr.Current(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, plans.PlanPro, sub.PlanID)
		assert.Equal(t, t0, sub.PeriodStart)

		// gateway redelivery
		_, err = f.mgr.HandleWebhook(ctx, subscription.ProviderRazorpay, payload, sig)
		require.NoError(t, err)

		again, err := f.mgr.Current(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, sub.Version, again.Version)

		payments, err := f.mgr.Payments(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("subscription cancelled is idempotent", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		ctx := context.Background()

		f.payPro(t, "user-1", "pay_1")

		payload := razorpaySubscriptionEvent("subscription.cancelled", "sub_00000000000001", "user-1", t0)
		sig := signRazorpay(t, payload)

		_, err := f.mgr.HandleWebhook(ctx, subscription.ProviderRazorpay, payload, sig)
		require.NoError(t, err)
		_, err = f.mgr.HandleWebhook(ctx, subscription.ProviderRazorpay, payload, sig)
		require.NoError(t, err)

		sub, err := f.mgr.Current(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelledPending, sub.Status)
	})

	t.Run("payment failed stamps renewal failure", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		ctx := context.Background()

		f.payPro(t, "user-1", "pay_1")
		failedAt := t0.Add(time.Hour)
		payload := razorpayPayment("payment.failed", "pay_failed_1", "user-1", plans.PlanPro, failedAt)

		_, err := f.mgr.HandleWebhook(ctx, subscription.ProviderRazorpay, payload, signRazorpay(t, payload))
		require.NoError(t, err)

		sub, err := f.mgr.Current(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, sub.RenewalFailedAt)
		assert.Equal(t, failedAt, *sub.RenewalFailedAt)
	})

	t.Run("untracked events are ignored", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		payload := []byte(`{"event":"order.paid","payload":{},"created_at":1736510400}`)
		event, err := f.mgr.HandleWebhook(context.Background(), subscription.ProviderRazorpay, payload, signRazorpay(t, payload))
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookIgnored, event.Type)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		ctx := context.Background()
		payload := razorpayPayment("payment.captured", "pay_1", "user-1", plans.PlanPro, t0)

		tests := []struct {
			name     string
			provider string
			payload  []byte
			sig      string
			want     error
		}{
			{"unknown provider", "stripe", payload, signRazorpay(t, payload), subscription.ErrUnknownProvider},
			{"tampered signature", subscription.ProviderRazorpay, payload, "deadbeef", subscription.ErrWebhookVerificationFailed},
			{"missing signature", subscription.ProviderRazorpay, payload, "", subscription.ErrWebhookVerificationFailed},
			{
				"missing user",
				subscription.ProviderRazorpay,
				razorpayPayment("payment.captured", "pay_2", "", plans.PlanPro, t0),
				signRazorpay(t, razorpayPayment("payment.captured", "pay_2", "", plans.PlanPro, t0)),
				subscription.ErrInvalidWebhookPayload,
			},
			{"malformed json", subscription.ProviderRazorpay, []byte(`{"event":`), signRazorpay(t, []byte(`{"event":`)), subscription.ErrInvalidWebhookPayload},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.mgr.HandleWebhook(ctx, tt.provider, tt.payload, tt.sig)
				require.ErrorIs(t, err, tt.want)
			})
		}

		payments, err := f.mgr.Payments(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, payments)
	})
}

const paddleSecret = "pdl_ntfset_test_secret"

func signPaddle(payload []byte, ts time.Time) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(paddleSecret))
	mac.Write([]byte(stamp + ":"))
	mac.Write(payload)
	return "ts=" + stamp + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestManager_HandleWebhook_Paddle(t *testing.T) {
	t.Parallel()

	pdl, err := subscription.NewPaddleProvider(subscription.PaddleConfig{WebhookSecret: paddleSecret})
	require.NoError(t, err)
	f := newFixture(t, subscription.WithProvider(pdl))
	ctx := context.Background()

	payload := []byte(`{
  "event_id": "evt_01h8bzakzx3hm2fmen703n5q45",
  "event_type": "transaction.completed",
  "occurred_at": "2025-01-10T12:00:00Z",
  "data": {
    "id": "txn_01h8bxpvx398a7zbawb77y0kp5",
    "status": "completed",
    "currency_code": "USD",
    "custom_data": {"user_id": "user-9", "plan_id": "advanced"},
    "details": {"totals": {"grand_total": "1999"}}
  }
}`)

	event, err := f.mgr.HandleWebhook(ctx, subscription.ProviderPaddle, payload, signPaddle(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, subscription.WebhookPaymentSucceeded, event.Type)
	assert.Equal(t, "evt_01h8bzakzx3hm2fmen703n5q45", event.EventID)
	assert.Equal(t, plans.Money{Amount: 1999, Currency: "USD"}, event.Amount)

	sub, err := f.mgr.Current(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, plans.PlanAdvanced, sub.PlanID)
	assert.Equal(t, t0, sub.PeriodStart)

	_, err = f.mgr.HandleWebhook(ctx, subscription.ProviderPaddle, payload, "ts=1;h1=00")
	require.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
}
