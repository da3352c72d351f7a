package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/statemachine"
)

// transition is the working set handed to guards and actions.
// Actions mutate sub in place; the manager persists it once all events applied.
type transition struct {
	sub    *Subscription
	plan   plans.Plan // plan of sub
	target plans.Plan // plan being paid for
	ref    PaymentRef
	now    time.Time
	grace  time.Duration

	replace bool // archive sub and attach a fresh free subscription
	dirty   bool
	fired   []firedEvent
}

type firedEvent struct {
	event    Event
	from, to Status
}

func payloadOf(data any) *transition {
	t, _ := data.(*transition)
	return t
}

func paidPlan(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	t := payloadOf(data)
	return t != nil && !t.plan.IsFree()
}

func freePlan(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	t := payloadOf(data)
	return t != nil && t.plan.IsFree()
}

func periodElapsed(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	t := payloadOf(data)
	return t != nil && !t.now.Before(t.sub.PeriodEnd)
}

func graceElapsed(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	t := payloadOf(data)
	return t != nil && !t.now.Before(t.sub.renewalDeadline(t.grace))
}

func targetPaid(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	t := payloadOf(data)
	return t != nil && t.target.ID != "" && !t.target.IsFree()
}

func markCancelled(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	t := payloadOf(data)
	now := t.now
	t.sub.Renew = false
	t.sub.CancelledAt = &now
	return nil
}

func archiveExpired(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	payloadOf(data).replace = true
	return nil
}

func markExpired(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	payloadOf(data).sub.Renew = false
	return nil
}

// rollForward advances a free period until it covers now.
func rollForward(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	t := payloadOf(data)
	for !t.sub.PeriodEnd.After(t.now) {
		t.sub.PeriodStart = t.sub.PeriodEnd
		t.sub.PeriodEnd = t.plan.PeriodEnd(t.sub.PeriodStart)
	}
	return nil
}

// activatePaid starts a new paid period at the payment timestamp.
func activatePaid(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	t := payloadOf(data)
	start := t.ref.At.UTC()
	t.sub.PlanID = t.target.ID
	t.sub.PeriodStart = start
	t.sub.PeriodEnd = t.target.PeriodEnd(start)
	t.sub.Renew = true
	t.sub.CancelledAt = nil
	t.sub.RenewalFailedAt = nil
	t.sub.PaymentRef = t.ref.GatewayTxnID
	t.plan = t.target
	return nil
}

// lifecycle is the complete transition table; anything missing is invalid.
var lifecycle = statemachine.MustNew(
	statemachine.WithTransition(StatusActive, StatusCancelledPending, EventCancel,
		statemachine.WithGuard(paidPlan),
		statemachine.WithAction(markCancelled),
	),
	statemachine.WithTransition(StatusCancelledPending, StatusExpired, EventPeriodEnd,
		statemachine.WithGuard(periodElapsed),
		statemachine.WithAction(archiveExpired),
	),
	statemachine.WithTransition(StatusActive, StatusActive, EventPeriodEnd,
		statemachine.WithGuard(freePlan),
		statemachine.WithGuard(periodElapsed),
		statemachine.WithAction(rollForward),
	),
	statemachine.WithTransition(StatusActive, StatusActive, EventPaymentSucceeded,
		statemachine.WithGuard(targetPaid),
		statemachine.WithAction(activatePaid),
	),
	statemachine.WithTransition(StatusExpired, StatusActive, EventPaymentSucceeded,
		statemachine.WithGuard(targetPaid),
		statemachine.WithAction(activatePaid),
	),
	statemachine.WithTransition(StatusActive, StatusExpired, EventRenewalFailed,
		statemachine.WithGuard(paidPlan),
		statemachine.WithGuard(graceElapsed),
		statemachine.WithAction(markExpired),
	),
)
