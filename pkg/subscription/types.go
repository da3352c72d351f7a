package subscription

import (
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// Status is the lifecycle state of a subscription. It satisfies statemachine.State.
type Status string

const (
	StatusActive           Status = "active"
	StatusCancelledPending Status = "cancelled_pending" // still entitled until the period ends
	StatusExpired          Status = "expired"
)

func (s Status) Name() string { return string(s) }

// Event drives a lifecycle transition. It satisfies statemachine.Event.
type Event string

const (
	EventCancel           Event = "cancel"
	EventPeriodEnd        Event = "period_end"
	EventPaymentSucceeded Event = "payment_succeeded"
	EventRenewalFailed    Event = "renewal_failed"
)

func (e Event) Name() string { return string(e) }

// PaymentStatus is the outcome of a gateway transaction.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRef carries the gateway facts of a transaction into the lifecycle.
type PaymentRef struct {
	Provider     string
	GatewayTxnID string
	Amount       plans.Money
	At           time.Time // when the gateway captured or declined the payment
	Verified     bool      // webhook signature verified
}

// Payment is the append-only record of a gateway transaction.
// (Provider, GatewayTxnID) is unique.
type Payment struct {
	ID             string        `json:"id" bson:"_id" db:"id"`
	UserID         string        `json:"user_id" bson:"user_id" db:"user_id"`
	PlanID         string        `json:"plan_id" bson:"plan_id" db:"plan_id"`
	Amount         int64         `json:"amount" bson:"amount" db:"amount"`
	Currency       string        `json:"currency" bson:"currency" db:"currency"`
	GatewayTxnID   string        `json:"gateway_txn_id" bson:"gateway_txn_id" db:"gateway_txn_id"`
	Provider       string        `json:"provider" bson:"provider" db:"provider"`
	Verified       bool          `json:"verified" bson:"verified" db:"verified"`
	Status         PaymentStatus `json:"status" bson:"status" db:"status"`
	SubscriptionID string        `json:"subscription_id" bson:"subscription_id" db:"subscription_id"`
	PaidAt         time.Time     `json:"paid_at" bson:"paid_at" db:"paid_at"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at" db:"created_at"`

	// SettledAt is set once the lifecycle has processed a succeeded payment,
	// whether it activated a plan or was skipped as stale. Redeliveries of a
	// settled payment change nothing.
	SettledAt *time.Time `json:"settled_at,omitempty" bson:"settled_at,omitempty" db:"settled_at"`
}

// SweepResult summarises one Sweep pass.
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Failed       int `json:"failed"`
}
