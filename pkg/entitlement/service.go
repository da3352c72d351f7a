package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/smartml/pkg/logger"
	"github.com/dmitrymomot/smartml/pkg/metrics"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

// SubscriptionResolver returns the subscription in force for a user.
// *subscription.Manager satisfies it.
type SubscriptionResolver interface {
	Current(ctx context.Context, userID string) (*subscription.Subscription, error)
}

// PlanCatalog resolves plans by ID. *plans.Registry satisfies it.
type PlanCatalog interface {
	Get(ctx context.Context, planID string) (plans.Plan, error)
}

// Service decides whether metered actions are allowed and records them in the
// usage ledger. It fails closed: any persistence failure denies the action.
type Service struct {
	subs       SubscriptionResolver
	catalog    PlanCatalog
	ledger     usage.Store
	freePlanID string
	timeout    time.Duration
	clock      func() time.Time
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewService creates an entitlement checker.
// Panics if any dependency is nil to fail fast on misconfiguration.
func NewService(subs SubscriptionResolver, catalog PlanCatalog, ledger usage.Store, opts ...Option) *Service {
	if subs == nil {
		panic("entitlement: SubscriptionResolver is required")
	}
	if catalog == nil {
		panic("entitlement: PlanCatalog is required")
	}
	if ledger == nil {
		panic("entitlement: usage Store is required")
	}

	s := &Service{
		subs:       subs,
		catalog:    catalog,
		ledger:     ledger,
		freePlanID: plans.PlanFree,
		timeout:    DefaultTimeout,
		clock:      time.Now,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("entitlement"))
	return s
}

// CheckAndConsume atomically checks amount against the user's plan limit for
// res in the current period and records it when it fits.
//
// LimitExceeded and InvalidAmount are reported in the Decision with a nil
// error. Unknown users or plans return an error wrapping ErrNotFound; storage
// failures and timeouts return an error wrapping ErrTemporarilyUnavailable
// together with a denied Decision.
func (s *Service) CheckAndConsume(ctx context.Context, userID string, res plans.Resource, amount int64) (Decision, error) {
	start := time.Now()
	dec, err := s.checkAndConsume(ctx, userID, res, amount)
	s.metrics.Decision(string(res), dec.Allowed, string(dec.Reason), time.Since(start))

	switch {
	case err != nil && errors.Is(err, ErrTemporarilyUnavailable):
		s.log.ErrorContext(ctx, "entitlement check failed closed",
			logger.UserID(userID),
			logger.Resource(string(res)),
			logger.Error(err),
		)
	case !dec.Allowed:
		s.log.DebugContext(ctx, "metered action denied",
			logger.UserID(userID),
			logger.Resource(string(res)),
			slog.Int64("amount", amount),
			slog.String("reason", string(dec.Reason)),
		)
	}
	return dec, err
}

func (s *Service) checkAndConsume(ctx context.Context, userID string, res plans.Resource, amount int64) (Decision, error) {
	dec := Decision{Resource: res}

	if amount <= 0 || amount > usage.MaxAmount {
		dec.Reason = ReasonInvalidAmount
		return dec, nil
	}
	if !res.Valid() {
		dec.Reason = ReasonNotFound
		return dec, errors.Join(ErrNotFound, plans.ErrUnknownResource, fmt.Errorf("resource %q", res))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	plan, _, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return denied(dec, err), err
	}
	dec.PlanID = plan.ID

	// A resource the plan does not list is not available on it.
	limit, ok := plan.Limit(res)
	if !ok {
		limit = 0
	}
	dec.Limit = limit

	period := usage.PeriodFor(res.Cadence(), s.clock())
	dec.PeriodEnd = period.End

	c := usage.NewConsumption(usage.KeyFor(userID, res, period), amount)
	rec, applied, err := s.ledger.Consume(ctx, c, period, limit)
	if err != nil {
		err = unavailable(err)
		return denied(dec, err), err
	}

	dec.Used = rec.Used
	dec.Remaining = rec.Remaining(limit)
	if !applied {
		dec.Reason = ReasonLimitExceeded
		return dec, nil
	}

	dec.Allowed = true
	dec.Consumption = &c
	return dec, nil
}

// Release gives back a granted consumption, for instance when the metered
// action failed after the decision. Releasing the same consumption again is a
// no-op. A consumption the ledger never granted is reported as ErrNotFound.
func (s *Service) Release(ctx context.Context, c usage.Consumption) error {
	if c.Amount <= 0 || c.Amount > usage.MaxAmount {
		return ErrInvalidAmount
	}
	if c.ID == "" || c.RecordID != c.Key().String() {
		return errors.Join(ErrNotFound, usage.ErrConsumptionNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, applied, err := s.ledger.Release(ctx, c)
	if err != nil {
		if errors.Is(err, usage.ErrRecordNotFound) || errors.Is(err, usage.ErrConsumptionNotFound) {
			return errors.Join(ErrNotFound, err)
		}
		return unavailable(err)
	}
	s.metrics.Release(string(c.Resource), applied)

	s.log.DebugContext(ctx, "consumption released",
		logger.UserID(c.UserID),
		logger.Resource(string(c.Resource)),
		slog.String("consumption_id", c.ID),
		slog.Bool("applied", applied),
		slog.Int64("used", rec.Used),
	)
	return nil
}

// GetUsageSummary reports usage of every metered resource on the user's plan
// for the current periods. Records that do not exist yet count as zero.
func (s *Service) GetUsageSummary(ctx context.Context, userID string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	plan, sub, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    sub.Status,
		Resources: make(map[plans.Resource]ResourceUsage, len(plan.Limits)),
	}

	now := s.clock()
	for _, res := range plans.Resources {
		limit, ok := plan.Limit(res)
		if !ok {
			continue
		}
		period := usage.PeriodFor(res.Cadence(), now)
		used, err := s.used(ctx, userID, res, period)
		if err != nil {
			return Summary{}, err
		}
		out.Resources[res] = ResourceUsage{
			Used:      used,
			Limit:     limit,
			Remaining: usage.Record{Used: used}.Remaining(limit),
			PeriodEnd: period.End,
		}
	}
	return out, nil
}

// CanDowngrade lists the resources whose current usage already exceeds the
// limits of targetPlanID. Downgrades are never blocked; the list tells the
// caller which resources will be denied until their period rolls over.
func (s *Service) CanDowngrade(ctx context.Context, userID, targetPlanID string) ([]Overage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	target, err := s.catalog.Get(ctx, targetPlanID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	current, _, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	cmp := plans.ComparePlans(&current, &target)
	reduced := make(map[plans.Resource]int64, len(cmp.DecreasedLimits)+len(cmp.RemovedResources))
	for res, change := range cmp.DecreasedLimits {
		reduced[res] = change.To
	}
	for res := range cmp.RemovedResources {
		reduced[res] = 0
	}

	now := s.clock()
	var out []Overage
	for _, res := range plans.Resources {
		limit, ok := reduced[res]
		if !ok {
			continue
		}
		used, err := s.used(ctx, userID, res, usage.PeriodFor(res.Cadence(), now))
		if err != nil {
			return nil, err
		}
		if used > limit {
			out = append(out, Overage{Resource: res, Used: used, Limit: limit})
		}
	}
	return out, nil
}

// resolvePlan returns the plan in force for userID. Subscriptions that are no
// longer entitled fall back to the free plan.
func (s *Service) resolvePlan(ctx context.Context, userID string) (plans.Plan, *subscription.Subscription, error) {
	sub, err := s.subs.Current(ctx, userID)
	if err != nil {
		return plans.Plan{}, nil, notFoundOr(err)
	}

	planID := sub.PlanID
	if !sub.Entitled() {
		planID = s.freePlanID
	}

	plan, err := s.catalog.Get(ctx, planID)
	if err != nil {
		return plans.Plan{}, nil, notFoundOr(err)
	}
	return plan, sub, nil
}

func (s *Service) used(ctx context.Context, userID string, res plans.Resource, period usage.Period) (int64, error) {
	rec, err := s.ledger.Get(ctx, usage.KeyFor(userID, res, period))
	switch {
	case err == nil:
		return rec.Used, nil
	case errors.Is(err, usage.ErrRecordNotFound):
		return 0, nil
	default:
		return 0, unavailable(err)
	}
}

func notFoundOr(err error) error {
	if errors.Is(err, plans.ErrPlanNotFound) || errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return unavailable(err)
}

func unavailable(err error) error {
	return errors.Join(ErrTemporarilyUnavailable, err)
}

// denied strips quota information from a failed decision.
func denied(dec Decision, err error) Decision {
	out := Decision{Resource: dec.Resource, Reason: ReasonTemporarilyUnavailable}
	if errors.Is(err, ErrNotFound) {
		out.Reason = ReasonNotFound
	}
	return out
}
