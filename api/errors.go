package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrymomot/smartml/handler"
	"github.com/dmitrymomot/smartml/pkg/entitlement"
	"github.com/dmitrymomot/smartml/pkg/jwt"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

var (
	ErrLimitExceeded          = handler.NewHTTPError(http.StatusPaymentRequired, "limit_exceeded")
	ErrInvalidAmount          = handler.NewHTTPError(http.StatusUnprocessableEntity, "invalid_amount")
	ErrTemporarilyUnavailable = handler.NewHTTPError(http.StatusServiceUnavailable, "temporarily_unavailable")
	ErrInvalidTransition      = handler.NewHTTPError(http.StatusConflict, "invalid_transition")
	ErrWebhookVerification    = handler.NewHTTPError(http.StatusUnauthorized, "webhook_verification_failed")
	ErrInvalidWebhookPayload  = handler.NewHTTPError(http.StatusBadRequest, "invalid_webhook_payload")
)

// errorStatuses is evaluated in order; the first match wins. Failures of the
// backing stores come first so a degraded dependency is never reported as a
// client error.
var errorStatuses = []struct {
	target error
	status handler.HTTPError
}{
	{entitlement.ErrTemporarilyUnavailable, ErrTemporarilyUnavailable},
	{subscription.ErrStoreFailure, ErrTemporarilyUnavailable},
	{subscription.ErrConcurrentUpdate, ErrTemporarilyUnavailable},
	{context.DeadlineExceeded, ErrTemporarilyUnavailable},

	{jwt.ErrExpiredToken, handler.ErrUnauthorized},
	{jwt.ErrInvalidToken, handler.ErrUnauthorized},
	{jwt.ErrMissingToken, handler.ErrUnauthorized},
	{jwt.ErrMissingSubject, handler.ErrUnauthorized},

	{subscription.ErrWebhookVerificationFailed, ErrWebhookVerification},
	{subscription.ErrInvalidWebhookPayload, ErrInvalidWebhookPayload},
	{subscription.ErrInvalidPaymentRef, ErrInvalidWebhookPayload},
	{subscription.ErrUnknownProvider, handler.ErrNotFound},

	{plans.ErrPlanNotFound, handler.ErrNotFound},
	{subscription.ErrSubscriptionNotFound, handler.ErrNotFound},
	{usage.ErrRecordNotFound, handler.ErrNotFound},
	{usage.ErrConsumptionNotFound, handler.ErrNotFound},
	{plans.ErrUnknownResource, handler.ErrNotFound},
	{entitlement.ErrNotFound, handler.ErrNotFound},

	{subscription.ErrInvalidTransition, ErrInvalidTransition},
	{subscription.ErrDuplicatePayment, handler.ErrConflict},
	{entitlement.ErrInvalidAmount, ErrInvalidAmount},
	{entitlement.ErrLimitExceeded, ErrLimitExceeded},
}

// httpError classifies a domain error. The original error stays in the chain
// for the log; only the status and, for client errors, the sentinel text
// reach the response.
func httpError(err error) error {
	var known handler.HTTPError
	if errors.As(err, &known) {
		return err
	}
	for _, e := range errorStatuses {
		if !errors.Is(err, e.target) {
			continue
		}
		status := e.status
		if status.Code < http.StatusInternalServerError {
			status = status.WithMessage(e.target.Error())
		}
		return errors.Join(status, err)
	}
	return err
}

// failure hands err to the error handler, which logs and renders it.
type failure struct{ err error }

func (f failure) Render(http.ResponseWriter, *http.Request) error { return f.err }

func fail(err error) handler.Response {
	return failure{err: httpError(err)}
}

// decisionResponse renders a decision. Denials keep the quota information
// next to the error so clients can show what is left.
func decisionResponse(dec entitlement.Decision) handler.Response {
	if dec.Allowed {
		return handler.JSON(dec)
	}

	status := ErrLimitExceeded.WithMessage(entitlement.ErrLimitExceeded.Error())
	if dec.Reason == entitlement.ReasonInvalidAmount {
		status = ErrInvalidAmount.WithMessage(entitlement.ErrInvalidAmount.Error())
	}
	return handler.JSON(handler.JSONResponse{
		Data:  dec,
		Error: &handler.ErrorDetail{Code: status.Key, Message: status.Message},
	}, handler.WithJSONStatus(status.Code))
}
