package entitlement

import (
	"errors"

	"github.com/dmitrymomot/smartml/pkg/subscription"
)

var (
	ErrNotFound               = errors.New("entitlement subject not found")
	ErrLimitExceeded          = errors.New("usage limit exceeded")
	ErrInvalidAmount          = errors.New("requested amount must be positive and at most usage.MaxAmount")
	ErrTemporarilyUnavailable = errors.New("entitlement check temporarily unavailable")

	// ErrInvalidTransition is the lifecycle misuse error surfaced by the subscription manager.
	ErrInvalidTransition = subscription.ErrInvalidTransition
)
