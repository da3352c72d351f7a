package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/smartml/binder"
	"github.com/dmitrymomot/smartml/handler"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

type consumeRequest struct {
	Resource string `path:"resource" json:"-"`
	Amount   *int64 `json:"amount"` // defaults to 1
}

type releaseRequest struct {
	Consumption *usage.Consumption `json:"consumption"`
}

func (s *server) consume() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req consumeRequest) handler.Response {
		amount := int64(1)
		if req.Amount != nil {
			amount = *req.Amount
		}

		dec, err := s.entitlements.CheckAndConsume(ctx, userID(ctx), plans.Resource(req.Resource), amount)
		if err != nil {
			return fail(err)
		}
		return decisionResponse(dec)
	}, binder.Path(chi.URLParam), binder.BindJSON())
}

func (s *server) release() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req releaseRequest) handler.Response {
		if req.Consumption == nil {
			verr := handler.NewValidationError()
			verr.Add("consumption", "is required")
			return handler.JSONError(verr)
		}
		// Another user's consumption is reported as unknown.
		if req.Consumption.UserID != userID(ctx) {
			return fail(usage.ErrConsumptionNotFound)
		}

		if err := s.entitlements.Release(ctx, *req.Consumption); err != nil {
			return fail(err)
		}
		return handler.EmptyWithStatus(http.StatusNoContent)
	}, binder.BindJSON())
}

func (s *server) usageSummary() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		summary, err := s.entitlements.GetUsageSummary(ctx, userID(ctx))
		if err != nil {
			return fail(err)
		}
		return handler.JSON(summary)
	})
}
