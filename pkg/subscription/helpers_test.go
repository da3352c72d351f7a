package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
)

var t0 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock { return &testClock{now: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

type fixture struct {
	mgr   *subscription.Manager
	store *subscription.MemoryStore
	clock *testClock
}

func newRegistry(t *testing.T) *plans.Registry {
	t.Helper()
	reg, err := plans.NewRegistry(context.Background(), plans.NewInMemSource(plans.Defaults()))
	require.NoError(t, err)
	return reg
}

func newFixture(t *testing.T, opts ...subscription.ManagerOption) *fixture {
	t.Helper()

	store := subscription.NewMemoryStore()
	clock := newTestClock(t0)
	opts = append([]subscription.ManagerOption{subscription.WithClock(clock.Now)}, opts...)

	return &fixture{
		mgr:   subscription.NewManager(store, store, newRegistry(t), opts...),
		store: store,
		clock: clock,
	}
}

func paymentRef(txn string, at time.Time) subscription.PaymentRef {
	return subscription.PaymentRef{
		Provider:     subscription.ProviderRazorpay,
		GatewayTxnID: txn,
		Amount:       plans.Money{Amount: 49900, Currency: "INR"},
		At:           at,
		Verified:     true,
	}
}

// payPro moves userID onto the pro plan with a payment at the current clock time.
func (f *fixture) payPro(t *testing.T, userID, txn string) *subscription.Subscription {
	t.Helper()
	sub, err := f.mgr.ApplyPayment(context.Background(), userID, plans.PlanPro, paymentRef(txn, f.clock.Now()))
	require.NoError(t, err)
	require.Equal(t, plans.PlanPro, sub.PlanID)
	return sub
}
