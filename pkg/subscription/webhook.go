package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/smartml/pkg/logger"
)

// HandleWebhook verifies a gateway notification through the named provider and
// applies it. Redelivered notifications are absorbed by payment idempotency.
// Event types the lifecycle does not track are acknowledged and ignored.
func (m *Manager) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookEvent, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	event, err := p.ParseWebhook(ctx, payload, signature)
	if err != nil {
		m.metrics.Webhook(provider, "unknown", "rejected")
		m.log.WarnContext(ctx, "webhook rejected", logger.Provider(provider), logger.Error(err))
		return nil, err
	}

	log := m.log.With(
		logger.Provider(provider),
		logger.EventType(event.ProviderEvent),
		slog.String("event_id", event.EventID),
		logger.UserID(event.UserID),
	)

	if event.Type != WebhookIgnored && event.UserID == "" {
		m.metrics.Webhook(provider, string(event.Type), "rejected")
		return event, fmt.Errorf("%w: missing user id", ErrInvalidWebhookPayload)
	}

	ref := PaymentRef{
		Provider:     provider,
		GatewayTxnID: event.GatewayTxnID,
		Amount:       event.Amount,
		At:           event.OccurredAt,
		Verified:     true,
	}

	switch event.Type {
	case WebhookPaymentSucceeded:
		_, err = m.ApplyPayment(ctx, event.UserID, event.PlanID, ref)
	case WebhookSubscriptionCancelled:
		_, err = m.CancelSubscription(ctx, event.UserID, true)
		if errors.Is(err, ErrInvalidTransition) {
			log.InfoContext(ctx, "cancellation for subscription that is not active ignored")
			err = nil
		}
	case WebhookPaymentFailed:
		_, err = m.RecordRenewalFailure(ctx, event.UserID, ref)
		if errors.Is(err, ErrInvalidTransition) {
			log.InfoContext(ctx, "renewal failure for subscription that is not renewing ignored")
			err = nil
		}
	default:
		m.metrics.Webhook(provider, string(event.Type), "ignored")
		log.DebugContext(ctx, "webhook ignored")
		return event, nil
	}

	if err != nil {
		m.metrics.Webhook(provider, string(event.Type), "failed")
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		return event, err
	}

	m.metrics.Webhook(provider, string(event.Type), "processed")
	log.InfoContext(ctx, "webhook processed")
	return event, nil
}
