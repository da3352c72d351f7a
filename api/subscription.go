package api

import (
	"net/http"

	"github.com/dmitrymomot/smartml/binder"
	"github.com/dmitrymomot/smartml/handler"
)

type cancelRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"` // defaults to true
}

func (s *server) currentSubscription() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		sub, err := s.subscriptions.Current(ctx, userID(ctx))
		if err != nil {
			return fail(err)
		}
		return handler.JSON(sub)
	})
}

func (s *server) cancelSubscription() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req cancelRequest) handler.Response {
		atPeriodEnd := req.AtPeriodEnd == nil || *req.AtPeriodEnd

		sub, err := s.subscriptions.CancelSubscription(ctx, userID(ctx), atPeriodEnd)
		if err != nil {
			return fail(err)
		}
		return handler.JSON(sub)
	}, binder.BindJSON())
}

func (s *server) subscriptionHistory() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		history, err := s.subscriptions.History(ctx, userID(ctx))
		if err != nil {
			return fail(err)
		}
		return handler.JSON(history, handler.WithJSONMeta(map[string]any{"total": len(history)}))
	})
}

func (s *server) payments() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		payments, err := s.subscriptions.Payments(ctx, userID(ctx))
		if err != nil {
			return fail(err)
		}
		return handler.JSON(payments, handler.WithJSONMeta(map[string]any{"total": len(payments)}))
	})
}
