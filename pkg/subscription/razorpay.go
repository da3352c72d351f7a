package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/webhook"
)

// ProviderRazorpay is the provider key of Razorpay.
const ProviderRazorpay = "razorpay"

// RazorpaySignatureHeader carries the hex HMAC-SHA256 of a Razorpay notification.
const RazorpaySignatureHeader = "X-Razorpay-Signature"

// RazorpayConfig holds configuration for the Razorpay webhook adapter.
type RazorpayConfig struct {
	WebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
}

// RazorpayProvider verifies Razorpay webhooks signed with X-Razorpay-Signature.
// The user and plan are taken from the notes attached to the order at checkout.
type RazorpayProvider struct {
	secret string
}

// NewRazorpayProvider creates a Razorpay webhook adapter.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: razorpay", ErrMissingWebhookSecret)
	}
	return &RazorpayProvider{secret: cfg.WebhookSecret}, nil
}

func (p *RazorpayProvider) Name() string { return ProviderRazorpay }

type razorpayNotes struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

type razorpayEntity struct {
	ID        string        `json:"id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Notes     razorpayNotes `json:"notes"`
	PlanID    string        `json:"plan_id"`
	CreatedAt int64         `json:"created_at"`
}

type razorpayEnvelope struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment"`
		Subscription *struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// ParseWebhook validates the HMAC signature and parses a Razorpay event.
func (p *RazorpayProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	if err := webhook.Verify(p.secret, payload, signature); err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	var env razorpayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidWebhookPayload)
	}

	event := &WebhookEvent{
		Type:          razorpayEventType(env.Event),
		ProviderEvent: env.Event,
		OccurredAt:    unixOrZero(env.CreatedAt),
	}

	var sub, pay *razorpayEntity
	if env.Payload.Subscription != nil {
		sub = &env.Payload.Subscription.Entity
	}
	if env.Payload.Payment != nil {
		pay = &env.Payload.Payment.Entity
	}

	// Notes live on whichever entity was created at checkout.
	for _, e := range []*razorpayEntity{pay, sub} {
		if e == nil {
			continue
		}
		if event.UserID == "" {
			event.UserID = e.Notes.UserID
		}
		if event.PlanID == "" {
			event.PlanID = e.Notes.PlanID
		}
	}

	switch {
	case pay != nil:
		event.GatewayTxnID = pay.ID
		event.Amount = plans.Money{Amount: pay.Amount, Currency: pay.Currency}
		if t := unixOrZero(pay.CreatedAt); !t.IsZero() {
			event.OccurredAt = t
		}
	case sub != nil:
		event.GatewayTxnID = sub.ID
	}
	event.EventID = env.Event + ":" + event.GatewayTxnID

	if event.Type == WebhookPaymentSucceeded || event.Type == WebhookPaymentFailed {
		if event.GatewayTxnID == "" {
			return nil, fmt.Errorf("%w: missing payment id", ErrInvalidWebhookPayload)
		}
	}
	return event, nil
}

func razorpayEventType(name string) WebhookEventType {
	switch name {
	case "payment.captured", "payment.succeeded", "subscription.charged":
		return WebhookPaymentSucceeded
	case "payment.failed", "subscription.pending", "subscription.halted":
		return WebhookPaymentFailed
	case "subscription.cancelled":
		return WebhookSubscriptionCancelled
	default:
		return WebhookIgnored
	}
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var _ BillingProvider = (*RazorpayProvider)(nil)
