package subscription

import (
	"context"
	"time"
)

// Store persists current subscriptions and their archived history.
// Writers use optimistic concurrency on Subscription.Version.
type Store interface {
	// Get returns the current subscription of a user or ErrSubscriptionNotFound.
	Get(ctx context.Context, userID string) (*Subscription, error)

	// Create stores the first subscription of a user.
	// Returns ErrSubscriptionAlreadyExists if the user already has one.
	Create(ctx context.Context, sub *Subscription) error

	// Update writes sub if the stored version still equals sub.Version and bumps
	// sub.Version on success. A stale version yields ErrConcurrentUpdate.
	Update(ctx context.Context, sub *Subscription) error

	// Replace archives old and installs next as the user's current subscription,
	// guarded by old.Version like Update.
	Replace(ctx context.Context, old, next *Subscription) error

	// History lists archived subscriptions of a user, newest first.
	History(ctx context.Context, userID string) ([]Subscription, error)

	// ListDue returns active or cancelled subscriptions whose period ended at or
	// before now, ordered by user ID and starting after afterUserID.
	ListDue(ctx context.Context, now time.Time, afterUserID string, limit int) ([]Subscription, error)
}

// PaymentStore is the append-only payment log.
type PaymentStore interface {
	// RecordPayment appends p. A second payment with the same provider and
	// gateway transaction id yields ErrDuplicatePayment.
	RecordPayment(ctx context.Context, p *Payment) error

	// Payment returns the payment of a provider transaction or ErrPaymentNotFound.
	Payment(ctx context.Context, provider, gatewayTxnID string) (*Payment, error)

	// SettlePayment marks a payment as processed by the lifecycle for
	// subscriptionID. Settling twice keeps the first timestamp.
	SettlePayment(ctx context.Context, provider, gatewayTxnID, subscriptionID string, at time.Time) error

	// Payments lists payments of a user, newest first.
	Payments(ctx context.Context, userID string) ([]Payment, error)
}
