package entitlement_test

import (
	"context"
	"errors"
	"maps"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/entitlement"
	"github.com/dmitrymomot/smartml/pkg/metrics"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

var t0 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

// catalogueSource serves a catalogue that tests can swap before a Reload.
type catalogueSource struct {
	mu   sync.Mutex
	data map[string]plans.Plan
}

func (s *catalogueSource) Load(context.Context) (map[string]plans.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data), nil
}

func (s *catalogueSource) set(data map[string]plans.Plan) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

type fixture struct {
	svc      *entitlement.Service
	subs     *subscription.Manager
	ledger   *usage.MemoryStore
	registry *plans.Registry
	source   *catalogueSource
	clock    *testClock
}

func newFixture(t *testing.T, opts ...entitlement.Option) *fixture {
	t.Helper()

	clock := &testClock{now: t0}
	src := &catalogueSource{data: plans.Defaults()}
	reg, err := plans.NewRegistry(context.Background(), src)
	require.NoError(t, err)

	subStore := subscription.NewMemoryStore()
	mgr := subscription.NewManager(subStore, subStore, reg, subscription.WithClock(clock.Now))
	ledger := usage.NewMemoryStore()

	opts = append([]entitlement.Option{entitlement.WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:      entitlement.NewService(mgr, reg, ledger, opts...),
		subs:     mgr,
		ledger:   ledger,
		registry: reg,
		source:   src,
		clock:    clock,
	}
}

func (f *fixture) pay(t *testing.T, userID, planID, txn string) {
	t.Helper()
	_, err := f.subs.ApplyPayment(context.Background(), userID, planID, subscription.PaymentRef{
		Provider:     subscription.ProviderRazorpay,
		GatewayTxnID: txn,
		At:           f.clock.Now(),
	})
	require.NoError(t, err)
}

func TestNewServicePanicsOnNilDependencies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.Panics(t, func() { entitlement.NewService(nil, f.registry, f.ledger) })
	assert.Panics(t, func() { entitlement.NewService(f.subs, nil, f.ledger) })
	assert.Panics(t, func() { entitlement.NewService(f.subs, f.registry, nil) })
}

func TestCheckAndConsume_FreePlanDailyTrainingLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, want := range []int64{2, 1, 0} {
		dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, want, dec.Remaining)
		assert.Equal(t, int64(3), dec.Limit)
		assert.Equal(t, plans.PlanFree, dec.PlanID)
		require.NotNil(t, dec.Consumption)
		assert.Equal(t, int64(1), dec.Consumption.Amount)
	}

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, entitlement.ReasonLimitExceeded, dec.Reason)
	assert.Equal(t, int64(0), dec.Remaining)
	assert.Equal(t, int64(3), dec.Used)
	assert.Nil(t, dec.Consumption)
	assert.Equal(t, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), dec.PeriodEnd)
}

func TestCheckAndConsume_DeniedRequestDoesNotMutate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 2)
	require.NoError(t, err)

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 2)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, int64(1), dec.Remaining)

	dec, err = f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(0), dec.Remaining)
}

func TestCheckAndConsume_InvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5, usage.MaxAmount + 1, math.MaxInt64} {
		dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceAPICall, amount)
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, entitlement.ReasonInvalidAmount, dec.Reason)
	}

	_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.Resource("gpu_hours"), 1)
	require.ErrorIs(t, err, entitlement.ErrNotFound)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Resources[plans.ResourceAPICall].Used)
}

func TestCheckAndConsume_UnlimitedPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.pay(t, "user-1", plans.PlanAdvanced, "pay_1")

	for range 100 {
		dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 10)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
		assert.Equal(t, plans.Unlimited, dec.Remaining)
		assert.Equal(t, plans.Unlimited, dec.Limit)
	}

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1<<40)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000+1<<40), summary.Resources[plans.ResourceModelTrain].Used)
}

func TestCheckAndConsume_PeriodRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
	}
	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	require.False(t, dec.Allowed)

	f.clock.Set(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))
	dec, err = f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(2), dec.Remaining)
	assert.Equal(t, "2025-01-11", dec.Consumption.PeriodKey)
}

func TestRelease(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceAPICall, 100)
	require.NoError(t, err)
	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceAPICall, 50)
	require.NoError(t, err)
	require.Equal(t, int64(850), dec.Remaining)

	require.NoError(t, f.svc.Release(ctx, *dec.Consumption))
	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), summary.Resources[plans.ResourceAPICall].Remaining)

	require.NoError(t, f.svc.Release(ctx, *dec.Consumption))
	summary, err = f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), summary.Resources[plans.ResourceAPICall].Used)

	bad := *dec.Consumption
	bad.Amount = 0
	require.ErrorIs(t, f.svc.Release(ctx, bad), entitlement.ErrInvalidAmount)

	unknown := *dec.Consumption
	unknown.RecordID = "nobody:api_call:2025-01"
	unknown.UserID = "nobody"
	require.ErrorIs(t, f.svc.Release(ctx, unknown), entitlement.ErrNotFound)

	mismatched := *dec.Consumption
	mismatched.RecordID = "user-1:model_train:2025-01-10"
	require.ErrorIs(t, f.svc.Release(ctx, mismatched), entitlement.ErrNotFound)
}

func TestRelease_ForgedConsumptionCannotRefillQuota(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var allowed int
	for range 10 {
		dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
		if dec.Allowed {
			allowed++
			continue
		}

		period := usage.PeriodFor(plans.CadenceDaily, f.clock.Now())
		forged := usage.NewConsumption(usage.KeyFor("user-1", plans.ResourceModelTrain, period), 3)
		require.ErrorIs(t, f.svc.Release(ctx, forged), entitlement.ErrNotFound)
	}
	assert.Equal(t, 3, allowed)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Resources[plans.ResourceModelTrain].Used)
}

func TestCheckAndConsume_HugeAmountDoesNotOverflow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	for _, amount := range []int64{math.MaxInt64, usage.MaxAmount} {
		dec, err = f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, amount)
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
	}

	var allowed int
	for range 100 {
		dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
		if dec.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Resources[plans.ResourceModelTrain].Used)
}

// failingStore simulates a ledger that is down or slow.
type failingStore struct {
	*usage.MemoryStore
	block bool
	calls atomic.Int64
}

var errLedgerDown = errors.New("ledger down")

func (s *failingStore) Consume(ctx context.Context, _ usage.Consumption, _ usage.Period, _ int64) (usage.Record, bool, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return usage.Record{}, false, ctx.Err()
	}
	return usage.Record{}, false, errLedgerDown
}

func TestCheckAndConsume_FailsClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		block bool
		want  error
	}{
		{"store error", false, errLedgerDown},
		{"store timeout", true, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			store := &failingStore{MemoryStore: usage.NewMemoryStore(), block: tt.block}
			svc := entitlement.NewService(f.subs, f.registry, store,
				entitlement.WithClock(f.clock.Now),
				entitlement.WithTimeout(50*time.Millisecond),
			)

			dec, err := svc.CheckAndConsume(context.Background(), "user-1", plans.ResourceModelTrain, 1)
			require.ErrorIs(t, err, entitlement.ErrTemporarilyUnavailable)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, dec.Allowed)
			assert.Equal(t, entitlement.ReasonTemporarilyUnavailable, dec.Reason)
			assert.Zero(t, dec.Remaining)
			assert.Zero(t, dec.Limit)
			assert.Nil(t, dec.Consumption)
			assert.Equal(t, int64(1), store.calls.Load())
		})
	}
}

func TestCheckAndConsume_ConcurrentRequestsNeverOverspend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.pay(t, "user-1", plans.PlanPro, "pay_1")

	const workers = 100
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
			if assert.NoError(t, err) && dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), allowed.Load())
	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), summary.Resources[plans.ResourceModelTrain].Used)
}

func TestCheckAndConsume_CancelledProKeepsLimitsUntilPeriodEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.pay(t, "user-1", plans.PlanPro, "pay_1")
	sub, err := f.subs.CancelSubscription(ctx, "user-1", true)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusCancelledPending, sub.Status)

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(25), dec.Limit)
	assert.Equal(t, plans.PlanPro, dec.PlanID)

	f.clock.Set(sub.PeriodEnd.Add(time.Minute))
	res, err := f.subs.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitioned)

	dec, err = f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(3), dec.Limit)
	assert.Equal(t, plans.PlanFree, dec.PlanID)
}

func TestCheckAndConsume_AdvancedPaymentUnlocksUnlimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
	}

	f.pay(t, "user-1", plans.PlanAdvanced, "pay_1")
	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, plans.Unlimited, dec.Remaining)
	assert.Equal(t, int64(4), dec.Used)
}

func TestCheckAndConsume_ExpiredSubscriptionUsesFreeLimits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.pay(t, "user-1", plans.PlanPro, "pay_1")
	sub, err := f.subs.Current(ctx, "user-1")
	require.NoError(t, err)

	f.clock.Set(sub.PeriodEnd.Add(subscription.DefaultGracePeriod))
	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), dec.Limit)
	assert.Equal(t, plans.PlanFree, dec.PlanID)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, summary.Status)
	assert.Equal(t, plans.PlanFree, summary.PlanID)
}

func TestDowngradeAppliesImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.pay(t, "user-1", plans.PlanPro, "pay_1")
	_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 10)
	require.NoError(t, err)

	overages, err := f.svc.CanDowngrade(ctx, "user-1", plans.PlanFree)
	require.NoError(t, err)
	require.Len(t, overages, 1)
	assert.Equal(t, entitlement.Overage{Resource: plans.ResourceModelTrain, Used: 10, Limit: 3}, overages[0])

	none, err := f.svc.CanDowngrade(ctx, "user-1", plans.PlanAdvanced)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.CanDowngrade(ctx, "user-1", "enterprise")
	require.ErrorIs(t, err, entitlement.ErrNotFound)

	_, err = f.subs.CancelSubscription(ctx, "user-1", false)
	require.NoError(t, err)

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, entitlement.ReasonLimitExceeded, dec.Reason)
	assert.Equal(t, int64(0), dec.Remaining)
	assert.Equal(t, int64(10), dec.Used)
}

func TestPlanReloadAppliesToNextCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
	}

	catalogue := plans.Defaults()
	free := catalogue[plans.PlanFree]
	free.Version = 2
	free.Limits[plans.ResourceModelTrain] = 5
	catalogue[plans.PlanFree] = free
	f.source.set(catalogue)
	require.NoError(t, f.registry.Reload(ctx))

	dec, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(1), dec.Remaining)
}

func TestGetUsageSummary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceStorageBytes, 512)
	require.NoError(t, err)

	summary, err := f.svc.GetUsageSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", summary.UserID)
	assert.Equal(t, plans.PlanFree, summary.PlanID)
	assert.Equal(t, subscription.StatusActive, summary.Status)
	require.Len(t, summary.Resources, 3)

	storage := summary.Resources[plans.ResourceStorageBytes]
	assert.Equal(t, int64(512), storage.Used)
	assert.Equal(t, int64(1<<30-512), storage.Remaining)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), storage.PeriodEnd)

	trains := summary.Resources[plans.ResourceModelTrain]
	assert.Equal(t, int64(0), trains.Used)
	assert.Equal(t, int64(3), trains.Remaining)
}

func TestCheckAndConsume_RecordsMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	f := newFixture(t, entitlement.WithMetrics(m))
	ctx := context.Background()

	for range 4 {
		_, err := f.svc.CheckAndConsume(ctx, "user-1", plans.ResourceModelTrain, 1)
		require.NoError(t, err)
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "smartml_entitlement_decisions_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(4), total)
}
