package subscription

import "errors"

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrInvalidTransition         = errors.New("invalid subscription transition")
	ErrConcurrentUpdate          = errors.New("subscription was modified concurrently")
	ErrDuplicatePayment          = errors.New("payment already recorded")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrInvalidPaymentRef         = errors.New("payment reference requires provider and gateway transaction id")

	ErrUnknownProvider           = errors.New("unknown billing provider")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")

	ErrStoreFailure = errors.New("subscription store failure")
)
