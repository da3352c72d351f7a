package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// BillingProvider verifies and normalises inbound gateway webhooks.
// Checkout and refunds stay with the gateway.
type BillingProvider interface {
	// Name is the provider key used in routes and payment records.
	Name() string

	// ParseWebhook validates the signature of payload and parses it.
	// A bad signature yields ErrWebhookVerificationFailed.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	Type          WebhookEventType
	ProviderEvent string // original gateway event name
	EventID       string
	UserID        string // from the notes/custom data attached at checkout
	PlanID        string
	GatewayTxnID  string
	Amount        plans.Money
	OccurredAt    time.Time
}

// WebhookEventType is the normalised billing event type.
type WebhookEventType string

const (
	WebhookPaymentSucceeded      WebhookEventType = "payment_succeeded"
	WebhookPaymentFailed         WebhookEventType = "payment_failed"
	WebhookSubscriptionCancelled WebhookEventType = "subscription_cancelled"
	WebhookIgnored               WebhookEventType = "ignored"
)
