package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// ProviderPaddle is the provider key of Paddle.
const ProviderPaddle = "paddle"

// PaddleSignatureHeader carries the ts/h1 signature of a Paddle notification.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleConfig holds configuration for the Paddle webhook adapter.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleProvider verifies Paddle Billing notifications with the SDK verifier.
// The user and plan are read from custom_data attached at checkout.
type PaddleProvider struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle webhook adapter.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle", ErrMissingWebhookSecret)
	}
	return &PaddleProvider{verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret)}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

type paddleEnvelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID             string `json:"id"`
		SubscriptionID string `json:"subscription_id"`
		CurrencyCode   string `json:"currency_code"`
		CustomData     struct {
			UserID string `json:"user_id"`
			PlanID string `json:"plan_id"`
		} `json:"custom_data"`
		Details *struct {
			Totals struct {
				GrandTotal string `json:"grand_total"`
			} `json:"totals"`
		} `json:"details"`
	} `json:"data"`
}

// ParseWebhook validates and parses a Paddle notification. The SDK verifier
// works on requests, so the payload is wrapped in one.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrInvalidWebhookPayload)
	}

	event := &WebhookEvent{
		Type:          paddleEventType(env.EventType),
		ProviderEvent: env.EventType,
		EventID:       env.EventID,
		UserID:        env.Data.CustomData.UserID,
		PlanID:        env.Data.CustomData.PlanID,
		GatewayTxnID:  env.Data.ID,
		OccurredAt:    env.OccurredAt.UTC(),
	}
	if env.Data.Details != nil && env.Data.Details.Totals.GrandTotal != "" {
		amount, err := strconv.ParseInt(env.Data.Details.Totals.GrandTotal, 10, 64)
		if err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		event.Amount = plans.Money{Amount: amount, Currency: env.Data.CurrencyCode}
	}

	if event.Type == WebhookPaymentSucceeded || event.Type == WebhookPaymentFailed {
		if event.GatewayTxnID == "" {
			return nil, fmt.Errorf("%w: missing transaction id", ErrInvalidWebhookPayload)
		}
	}
	return event, nil
}

func paddleEventType(name string) WebhookEventType {
	switch name {
	case "transaction.completed", "transaction.paid":
		return WebhookPaymentSucceeded
	case "transaction.payment_failed", "subscription.past_due":
		return WebhookPaymentFailed
	case "subscription.canceled":
		return WebhookSubscriptionCancelled
	default:
		return WebhookIgnored
	}
}

var _ BillingProvider = (*PaddleProvider)(nil)
