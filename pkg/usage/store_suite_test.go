package usage_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

// runStoreSuite checks the Store contract against any backend.
func runStoreSuite(t *testing.T, store usage.Store) {
	t.Helper()

	ctx := context.Background()
	period := usage.PeriodFor(plans.CadenceDaily, time.Now())

	newKey := func() usage.RecordKey {
		return usage.KeyFor(uuid.NewString(), plans.ResourceModelTrain, period)
	}
	charge := func(key usage.RecordKey, p usage.Period, amount, limit int64) (usage.Consumption, usage.Record, bool, error) {
		c := usage.NewConsumption(key, amount)
		rec, applied, err := store.Consume(ctx, c, p, limit)
		return c, rec, applied, err
	}
	consume := func(key usage.RecordKey, p usage.Period, amount, limit int64) (usage.Record, bool, error) {
		_, rec, applied, err := charge(key, p, amount, limit)
		return rec, applied, err
	}

	t.Run("get missing record", func(t *testing.T) {
		_, err := store.Get(ctx, newKey())
		assert.ErrorIs(t, err, usage.ErrRecordNotFound)
	})

	t.Run("get or create starts at zero", func(t *testing.T) {
		key := newKey()

		rec, err := store.GetOrCreate(ctx, key, period)
		require.NoError(t, err)
		assert.Equal(t, key.String(), rec.ID)
		assert.Equal(t, int64(0), rec.Used)
		assert.Equal(t, plans.ResourceModelTrain, rec.Resource)
		assert.True(t, rec.PeriodStart.Equal(period.Start))
		assert.True(t, rec.PeriodEnd.Equal(period.End))

		again, err := store.GetOrCreate(ctx, key, period)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, again.ID)
		assert.Equal(t, int64(0), again.Used)
	})

	t.Run("consume up to the limit", func(t *testing.T) {
		key := newKey()

		for want := int64(1); want <= 3; want++ {
			rec, applied, err := consume(key, period, 1, 3)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, want, rec.Used)
		}

		rec, applied, err := consume(key, period, 1, 3)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, int64(3), rec.Used, "denied consume must not mutate the record")
	})

	t.Run("amount above limit on fresh record", func(t *testing.T) {
		key := newKey()

		rec, applied, err := consume(key, period, 5, 3)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, int64(0), rec.Used)
	})

	t.Run("unlimited always applies", func(t *testing.T) {
		key := newKey()

		rec, applied, err := consume(key, period, 1_000_000, plans.Unlimited)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(1_000_000), rec.Used)

		rec, applied, err = consume(key, period, 1<<40, plans.Unlimited)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(1_000_000+1<<40), rec.Used)
	})

	t.Run("zero limit denies", func(t *testing.T) {
		_, applied, err := consume(newKey(), period, 1, 0)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, _, err := consume(newKey(), period, 0, 3)
		assert.ErrorIs(t, err, usage.ErrInvalidAmount)

		_, _, err = consume(newKey(), period, -1, 3)
		assert.ErrorIs(t, err, usage.ErrInvalidAmount)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		key := newKey()

		c, _, applied, err := charge(key, period, 2, 3)
		require.NoError(t, err)
		require.True(t, applied)

		rec, released, err := store.Release(ctx, c)
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, int64(0), rec.Used)

		rec, released, err = store.Release(ctx, c)
		require.NoError(t, err)
		assert.False(t, released)
		assert.Equal(t, int64(0), rec.Used)
	})

	t.Run("release restores remaining", func(t *testing.T) {
		key := newKey()

		_, _, err := consume(key, period, 1, 3)
		require.NoError(t, err)
		before, err := store.Get(ctx, key)
		require.NoError(t, err)

		c, rec, applied, err := charge(key, period, 2, 3)
		require.NoError(t, err)
		require.True(t, applied)
		assert.Equal(t, int64(0), rec.Remaining(3))

		rec, released, err := store.Release(ctx, c)
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, before.Remaining(3), rec.Remaining(3))
	})

	t.Run("release of an unknown consumption id is rejected", func(t *testing.T) {
		key := newKey()

		for range 3 {
			_, applied, err := consume(key, period, 1, 3)
			require.NoError(t, err)
			require.True(t, applied)
		}

		forged := usage.NewConsumption(key, 3)
		rec, released, err := store.Release(ctx, forged)
		require.ErrorIs(t, err, usage.ErrConsumptionNotFound)
		assert.False(t, released)

		rec, err = store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.Used)

		_, applied, err := consume(key, period, 1, 3)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("release with a different amount is rejected", func(t *testing.T) {
		key := newKey()

		c, _, applied, err := charge(key, period, 1, 3)
		require.NoError(t, err)
		require.True(t, applied)
		_, applied, err = consume(key, period, 2, 3)
		require.NoError(t, err)
		require.True(t, applied)

		inflated := c
		inflated.Amount = 3
		_, released, err := store.Release(ctx, inflated)
		require.ErrorIs(t, err, usage.ErrConsumptionNotFound)
		assert.False(t, released)

		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.Used)
	})

	t.Run("release of a consumption granted on another record is rejected", func(t *testing.T) {
		mine, other := newKey(), newKey()

		_, applied, err := consume(mine, period, 3, 3)
		require.NoError(t, err)
		require.True(t, applied)
		c, _, applied, err := charge(other, period, 3, 3)
		require.NoError(t, err)
		require.True(t, applied)

		moved := usage.NewConsumption(mine, c.Amount)
		moved.ID = c.ID
		_, released, err := store.Release(ctx, moved)
		require.ErrorIs(t, err, usage.ErrConsumptionNotFound)
		assert.False(t, released)
	})

	t.Run("denied consume grants nothing", func(t *testing.T) {
		key := newKey()

		_, applied, err := consume(key, period, 3, 3)
		require.NoError(t, err)
		require.True(t, applied)

		c, _, applied, err := charge(key, period, 1, 3)
		require.NoError(t, err)
		require.False(t, applied)

		_, _, err = store.Release(ctx, c)
		assert.ErrorIs(t, err, usage.ErrConsumptionNotFound)
	})

	t.Run("release unknown record", func(t *testing.T) {
		_, _, err := store.Release(ctx, usage.NewConsumption(newKey(), 1))
		assert.ErrorIs(t, err, usage.ErrRecordNotFound)
	})

	t.Run("huge amounts cannot overflow the counter", func(t *testing.T) {
		key := newKey()

		_, applied, err := consume(key, period, 1, 3)
		require.NoError(t, err)
		require.True(t, applied)

		_, _, err = consume(key, period, math.MaxInt64, 3)
		require.ErrorIs(t, err, usage.ErrInvalidAmount)

		rec, applied, err := consume(key, period, usage.MaxAmount, 3)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, int64(1), rec.Used)

		rec, applied, err = consume(key, period, 2, 3)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(3), rec.Used)
	})

	t.Run("unlimited stops before the counter overflows", func(t *testing.T) {
		key := newKey()

		var used int64
		for used <= math.MaxInt64-usage.MaxAmount {
			rec, applied, err := consume(key, period, usage.MaxAmount, plans.Unlimited)
			require.NoError(t, err)
			require.True(t, applied)
			used += usage.MaxAmount
			require.Equal(t, used, rec.Used)
		}

		rec, applied, err := consume(key, period, usage.MaxAmount, plans.Unlimited)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, used, rec.Used)
		assert.Positive(t, rec.Used)
	})

	t.Run("periods are independent", func(t *testing.T) {
		userID := uuid.NewString()
		today := usage.PeriodFor(plans.CadenceDaily, time.Now())
		tomorrow := usage.PeriodFor(plans.CadenceDaily, today.End)

		for range 3 {
			_, applied, err := consume(usage.KeyFor(userID, plans.ResourceModelTrain, today), today, 1, 3)
			require.NoError(t, err)
			require.True(t, applied)
		}

		rec, applied, err := consume(usage.KeyFor(userID, plans.ResourceModelTrain, tomorrow), tomorrow, 1, 3)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(1), rec.Used)
		assert.Equal(t, tomorrow.Key, rec.PeriodKey)
	})

	t.Run("concurrent consume never exceeds limit", func(t *testing.T) {
		key := newKey()
		const (
			limit      = int64(50)
			amount     = int64(3)
			goroutines = 40
			perWorker  = 5
		)

		var wg sync.WaitGroup
		var allowed atomic.Int64
		wg.Add(goroutines)
		for range goroutines {
			go func() {
				defer wg.Done()
				for range perWorker {
					_, applied, err := consume(key, period, amount, limit)
					if err == nil && applied {
						allowed.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.LessOrEqual(t, rec.Used, limit)
		assert.Equal(t, allowed.Load()*amount, rec.Used)
		assert.Equal(t, limit/amount, allowed.Load())
	})

	t.Run("concurrent release applies once", func(t *testing.T) {
		key := newKey()

		c, _, applied, err := charge(key, period, 3, 3)
		require.NoError(t, err)
		require.True(t, applied)

		var wg sync.WaitGroup
		var released atomic.Int64
		wg.Add(10)
		for range 10 {
			go func() {
				defer wg.Done()
				if _, ok, err := store.Release(ctx, c); err == nil && ok {
					released.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), released.Load())
		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rec.Used)
	})
}
