package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/smartml/handler"
	"github.com/dmitrymomot/smartml/pkg/subscription"
)

// MaxWebhookSize bounds gateway notification bodies.
const MaxWebhookSize = 256 << 10

type webhookAck struct {
	Received bool                          `json:"received"`
	EventID  string                        `json:"event_id,omitempty"`
	Type     subscription.WebhookEventType `json:"type"`
}

// webhook verifies and applies a gateway notification. The signature covers
// the raw body, so it is read as is and never bound. Any non-2xx answer makes
// the gateway redeliver, which payment idempotency absorbs.
func (s *server) webhook(provider, signatureHeader string) http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		r := ctx.Request()
		payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, MaxWebhookSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return fail(errors.Join(handler.ErrRequestTooLarge, err))
			}
			return fail(errors.Join(handler.ErrBadRequest, err))
		}

		event, err := s.subscriptions.HandleWebhook(ctx, provider, payload, r.Header.Get(signatureHeader))
		if err != nil {
			return fail(err)
		}
		return handler.JSON(webhookAck{Received: true, EventID: event.EventID, Type: event.Type})
	})
}
