package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/smartml/pkg/logger"
	"github.com/dmitrymomot/smartml/pkg/metrics"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/statemachine"
)

// PlanCatalog resolves plans by ID. *plans.Registry satisfies it.
type PlanCatalog interface {
	Get(ctx context.Context, planID string) (plans.Plan, error)
}

// maxSettleSteps bounds the due-event loop of a single evaluation.
const maxSettleSteps = 4

// Manager owns the subscription lifecycle. Period boundaries are evaluated
// lazily on every access and in batches by Sweep.
type Manager struct {
	store      Store
	payments   PaymentStore
	catalog    PlanCatalog
	machine    *statemachine.Machine
	providers  map[string]BillingProvider
	clock      func() time.Time
	grace      time.Duration
	freePlanID string
	maxRetries int
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewManager creates a lifecycle manager.
// Panics if any dependency is nil to fail fast on misconfiguration.
func NewManager(store Store, payments PaymentStore, catalog PlanCatalog, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("subscription: Store is required")
	}
	if payments == nil {
		panic("subscription: PaymentStore is required")
	}
	if catalog == nil {
		panic("subscription: PlanCatalog is required")
	}

	m := &Manager{
		store:      store,
		payments:   payments,
		catalog:    catalog,
		machine:    lifecycle,
		providers:  make(map[string]BillingProvider),
		clock:      time.Now,
		grace:      DefaultGracePeriod,
		freePlanID: plans.PlanFree,
		maxRetries: DefaultMaxRetries,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("subscription"))
	return m
}

// Current returns the user's subscription after applying any period boundary
// that has passed. A user seen for the first time gets a free subscription.
func (m *Manager) Current(ctx context.Context, userID string) (*Subscription, error) {
	return m.mutate(ctx, userID, nil)
}

// ApplyPayment records a successful payment and activates planID from the
// payment timestamp. Once a payment has been settled, redelivery of the same
// gateway transaction is a no-op, even after the subscription it activated
// was cancelled or replaced. A payment older than the current paid period is
// recorded and settled but not applied.
func (m *Manager) ApplyPayment(ctx context.Context, userID, planID string, ref PaymentRef) (*Subscription, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	target, err := m.catalog.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if ref.At.IsZero() {
		ref.At = m.now()
	}

	cur, err := m.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := m.recordPayment(ctx, cur, planID, ref, PaymentSucceeded)
	if err != nil {
		return nil, err
	}
	if p.SettledAt != nil {
		return cur, nil
	}

	sub, err := m.mutate(ctx, userID, func(ctx context.Context, t *transition) error {
		if t.sub.PaymentRef == ref.GatewayTxnID {
			return nil
		}
		if t.sub.PaymentRef != "" && ref.At.Before(t.sub.PeriodStart) {
			m.log.WarnContext(ctx, "stale payment not applied",
				logger.UserID(userID),
				logger.PlanID(planID),
				logger.Provider(ref.Provider),
				slog.String("gateway_txn_id", ref.GatewayTxnID),
			)
			return nil
		}
		return m.step(ctx, t, EventPaymentSucceeded, target, ref)
	})
	if err != nil {
		return nil, err
	}

	if err := m.payments.SettlePayment(ctx, ref.Provider, ref.GatewayTxnID, sub.ID, m.now()); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription stops renewal of a paid subscription. With atPeriodEnd the
// user keeps the plan until the period ends; otherwise the subscription
// expires now and the returned one is the free plan that replaced it.
func (m *Manager) CancelSubscription(ctx context.Context, userID string, atPeriodEnd bool) (*Subscription, error) {
	return m.mutate(ctx, userID, func(ctx context.Context, t *transition) error {
		if err := m.step(ctx, t, EventCancel, plans.Plan{}, PaymentRef{}); err != nil {
			return err
		}
		if atPeriodEnd {
			return nil
		}
		t.sub.PeriodEnd = t.now
		return m.step(ctx, t, EventPeriodEnd, plans.Plan{}, PaymentRef{})
	})
}

// RecordRenewalFailure records a declined renewal and stamps the subscription.
// The subscription expires once the grace period after the failure has passed.
func (m *Manager) RecordRenewalFailure(ctx context.Context, userID string, ref PaymentRef) (*Subscription, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if ref.At.IsZero() {
		ref.At = m.now()
	}

	cur, err := m.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := m.recordPayment(ctx, cur, cur.PlanID, ref, PaymentFailed); err != nil {
		return nil, err
	}

	return m.mutate(ctx, userID, func(ctx context.Context, t *transition) error {
		if t.sub.Status != StatusActive || t.plan.IsFree() {
			return errors.Join(ErrInvalidTransition,
				fmt.Errorf("renewal failure on %s subscription of plan %s", t.sub.Status, t.sub.PlanID))
		}
		at := ref.At.UTC()
		if t.sub.RenewalFailedAt == nil || at.After(*t.sub.RenewalFailedAt) {
			t.sub.RenewalFailedAt = &at
			t.sub.UpdatedAt = t.now
			t.dirty = true
		}
		if t.now.Before(t.sub.renewalDeadline(t.grace)) {
			return nil
		}
		return m.step(ctx, t, EventRenewalFailed, plans.Plan{}, PaymentRef{})
	})
}

// History lists the archived subscriptions of a user, newest first.
func (m *Manager) History(ctx context.Context, userID string) ([]Subscription, error) {
	return m.store.History(ctx, userID)
}

// Payments lists the recorded payments of a user, newest first.
func (m *Manager) Payments(ctx context.Context, userID string) ([]Payment, error) {
	return m.payments.Payments(ctx, userID)
}

// Sweep evaluates every subscription whose period has ended, batch at a time.
// A failing subscription does not stop the sweep; all failures are joined.
func (m *Manager) Sweep(ctx context.Context, batch int) (SweepResult, error) {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	var (
		res   SweepResult
		errs  []error
		after string
		now   = m.now()
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(append(errs, err)...)
		}

		due, err := m.store.ListDue(ctx, now, after, batch)
		if err != nil {
			return res, errors.Join(append(errs, err)...)
		}

		for _, before := range due {
			after = before.UserID
			res.Scanned++

			out, err := m.Current(ctx, before.UserID)
			switch {
			case err != nil:
				res.Failed++
				errs = append(errs, fmt.Errorf("sweep user %s: %w", before.UserID, err))
				m.metrics.Swept("failed")
			case out.ID != before.ID || out.Status != before.Status || !out.PeriodEnd.Equal(before.PeriodEnd):
				res.Transitioned++
				m.metrics.Swept("transitioned")
			default:
				m.metrics.Swept("unchanged")
			}
		}

		if len(due) < batch {
			break
		}
	}

	m.log.InfoContext(ctx, "sweep finished",
		slog.Int("scanned", res.Scanned),
		slog.Int("transitioned", res.Transitioned),
		slog.Int("failed", res.Failed),
	)
	return res, errors.Join(errs...)
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

func validateRef(ref PaymentRef) error {
	if ref.Provider == "" || ref.GatewayTxnID == "" {
		return ErrInvalidPaymentRef
	}
	return nil
}

// recordPayment stores the payment, or returns the stored one when the gateway
// transaction was already recorded.
func (m *Manager) recordPayment(ctx context.Context, sub *Subscription, planID string, ref PaymentRef, status PaymentStatus) (*Payment, error) {
	now := m.now()
	p := &Payment{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		PlanID:         planID,
		Amount:         ref.Amount.Amount,
		Currency:       ref.Amount.Currency,
		GatewayTxnID:   ref.GatewayTxnID,
		Provider:       ref.Provider,
		Verified:       ref.Verified,
		Status:         status,
		SubscriptionID: sub.ID,
		PaidAt:         ref.At.UTC(),
		CreatedAt:      now,
	}
	err := m.payments.RecordPayment(ctx, p)
	if errors.Is(err, ErrDuplicatePayment) {
		m.log.DebugContext(ctx, "payment already recorded",
			logger.UserID(sub.UserID),
			logger.Provider(ref.Provider),
			slog.String("gateway_txn_id", ref.GatewayTxnID),
		)
		return m.payments.Payment(ctx, ref.Provider, ref.GatewayTxnID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// mutate loads the current subscription, settles due boundaries, applies fn
// and persists the result once. Concurrent writers are retried up to maxRetries.
func (m *Manager) mutate(ctx context.Context, userID string, fn func(context.Context, *transition) error) (*Subscription, error) {
	if userID == "" {
		return nil, ErrSubscriptionNotFound
	}

	var lastErr error
	for conflicts := 0; conflicts <= m.maxRetries; {
		stored, err := m.load(ctx, userID)
		if err != nil {
			return nil, err
		}

		t, err := m.begin(ctx, stored)
		if err != nil {
			return nil, err
		}
		if err := m.settle(ctx, t); err != nil {
			return nil, err
		}

		// An expiry found while settling must land before fn sees the
		// subscription, so fn runs against the free replacement.
		if t.replace && fn != nil {
			if _, err := m.persist(ctx, t); err != nil {
				if !errors.Is(err, ErrConcurrentUpdate) {
					return nil, err
				}
				lastErr = err
				conflicts++
			}
			continue
		}

		if fn != nil {
			if err := fn(ctx, t); err != nil {
				return nil, err
			}
		}
		if !t.dirty {
			return t.sub, nil
		}

		out, err := m.persist(ctx, t)
		if errors.Is(err, ErrConcurrentUpdate) {
			lastErr = err
			conflicts++
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	m.log.WarnContext(ctx, "subscription update retries exhausted",
		logger.UserID(userID),
		logger.Error(lastErr),
	)
	return nil, lastErr
}

func (m *Manager) load(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := m.store.Get(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	free, err := m.catalog.Get(ctx, m.freePlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve free plan: %w", err)
	}
	sub = newFreeSubscription(userID, free, m.now())
	if err := m.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrSubscriptionAlreadyExists) {
			return m.store.Get(ctx, userID)
		}
		return nil, err
	}

	m.log.InfoContext(ctx, "free subscription created",
		logger.UserID(userID),
		logger.PlanID(free.ID),
	)
	return sub, nil
}

func (m *Manager) begin(ctx context.Context, stored *Subscription) (*transition, error) {
	plan, err := m.catalog.Get(ctx, stored.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan %s: %w", stored.PlanID, err)
	}
	return &transition{
		sub:   stored.clone(),
		plan:  plan,
		now:   m.now(),
		grace: m.grace,
	}, nil
}

// settle fires the period-boundary events that are due at t.now.
func (m *Manager) settle(ctx context.Context, t *transition) error {
	for range maxSettleSteps {
		if t.replace {
			return nil
		}
		event, ok := due(t)
		if !ok {
			return nil
		}
		if err := m.step(ctx, t, event, plans.Plan{}, PaymentRef{}); err != nil {
			return err
		}
	}
	return nil
}

// due reports the boundary event that applies to t.sub at t.now, if any.
// A paid subscription that was not renewed within the grace period counts
// as a failed renewal.
func due(t *transition) (Event, bool) {
	s := t.sub
	switch s.Status {
	case StatusCancelledPending:
		if !t.now.Before(s.PeriodEnd) {
			return EventPeriodEnd, true
		}
	case StatusActive:
		if t.plan.IsFree() {
			if !t.now.Before(s.PeriodEnd) {
				return EventPeriodEnd, true
			}
		} else if !t.now.Before(s.renewalDeadline(t.grace)) {
			return EventRenewalFailed, true
		}
	}
	return "", false
}

// step fires event against the working copy.
func (m *Manager) step(ctx context.Context, t *transition, event Event, target plans.Plan, ref PaymentRef) error {
	t.target, t.ref = target, ref

	from := t.sub.Status
	to, err := m.machine.Fire(ctx, from, event, t)
	if err != nil {
		if statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err) {
			return errors.Join(ErrInvalidTransition, err)
		}
		return err
	}

	status, ok := to.(Status)
	if !ok {
		return fmt.Errorf("unexpected lifecycle state %q", to.Name())
	}
	t.sub.Status = status
	t.sub.UpdatedAt = t.now
	t.dirty = true
	t.fired = append(t.fired, firedEvent{event: event, from: from, to: status})
	return nil
}

// persist writes the working copy, archiving it when it expired into a free plan.
func (m *Manager) persist(ctx context.Context, t *transition) (*Subscription, error) {
	out := t.sub
	if t.replace {
		free, err := m.catalog.Get(ctx, m.freePlanID)
		if err != nil {
			return nil, fmt.Errorf("resolve free plan: %w", err)
		}
		next := newFreeSubscription(t.sub.UserID, free, t.now)
		if err := m.store.Replace(ctx, t.sub, next); err != nil {
			return nil, err
		}
		out = next
	} else if err := m.store.Update(ctx, t.sub); err != nil {
		return nil, err
	}

	for _, f := range t.fired {
		m.metrics.Transition(string(f.event), string(f.from), string(f.to))
		m.log.InfoContext(ctx, "subscription transition",
			logger.UserID(t.sub.UserID),
			logger.PlanID(t.sub.PlanID),
			logger.Event(string(f.event)),
			slog.String("from", string(f.from)),
			slog.String("to", string(f.to)),
		)
	}
	if t.replace {
		m.log.InfoContext(ctx, "expired subscription archived",
			logger.UserID(out.UserID),
			slog.String("archived_id", t.sub.ID),
			logger.PlanID(out.PlanID),
		)
	}
	return out, nil
}
