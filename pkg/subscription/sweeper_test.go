package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
)

func TestManager_Sweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.payPro(t, "a-cancelled", "pay_a")
	_, err := f.mgr.CancelSubscription(ctx, "a-cancelled", true)
	require.NoError(t, err)

	_, err = f.mgr.Current(ctx, "b-free")
	require.NoError(t, err)

	f.payPro(t, "c-paid", "pay_c")

	f.clock.Advance(32 * 24 * time.Hour)

	res, err := f.mgr.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Transitioned)
	assert.Zero(t, res.Failed)

	a, err := f.store.Get(ctx, "a-cancelled")
	require.NoError(t, err)
	assert.Equal(t, plans.PlanFree, a.PlanID)

	b, err := f.store.Get(ctx, "b-free")
	require.NoError(t, err)
	assert.True(t, b.PeriodEnd.After(f.clock.Now()))

	// paid subscription is inside its grace period
	c, err := f.store.Get(ctx, "c-paid")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, c.Status)

	res, err = f.mgr.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Transitioned)
}

func TestManager_SweepNothingDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.mgr.Current(context.Background(), "user-1")
	require.NoError(t, err)

	res, err := f.mgr.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, subscription.SweepResult{}, res)
}

func TestSweeper_Run(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.payPro(t, "user-1", "pay_1")
	_, err := f.mgr.CancelSubscription(ctx, "user-1", true)
	require.NoError(t, err)
	f.clock.Advance(40 * 24 * time.Hour)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	sweeper := subscription.NewSweeper(f.mgr, subscription.WithSweepInterval(20*time.Millisecond))
	err = sweeper.Run(runCtx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	sub, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plans.PlanFree, sub.PlanID)
}

func TestNewSweeper_PanicsOnNilManager(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { subscription.NewSweeper(nil) })
}
