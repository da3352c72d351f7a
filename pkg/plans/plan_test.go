package plans_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

func TestResourceCadence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, plans.CadenceDaily, plans.ResourceModelTrain.Cadence())
	assert.Equal(t, plans.CadenceMonthly, plans.ResourceAPICall.Cadence())
	assert.Equal(t, plans.CadenceMonthly, plans.ResourceStorageBytes.Cadence())
	assert.False(t, plans.Resource("gpu_hours").Valid())
}

func TestPlanLimit(t *testing.T) {
	t.Parallel()

	free := plans.Defaults()[plans.PlanFree]

	limit, ok := free.Limit(plans.ResourceModelTrain)
	require.True(t, ok)
	assert.Equal(t, int64(3), limit)

	_, ok = free.Limit(plans.Resource("gpu_hours"))
	assert.False(t, ok)

	advanced := plans.Defaults()[plans.PlanAdvanced]
	limit, ok = advanced.Limit(plans.ResourceModelTrain)
	require.True(t, ok)
	assert.Equal(t, plans.Unlimited, limit)
}

func TestPlanPeriodEnd(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	t.Run("monthly", func(t *testing.T) {
		t.Parallel()
		p := plans.Plan{Interval: plans.IntervalMonthly}
		assert.Equal(t, start.AddDate(0, 1, 0), p.PeriodEnd(start))
	})

	t.Run("annual", func(t *testing.T) {
		t.Parallel()
		p := plans.Plan{Interval: plans.IntervalAnnual}
		assert.Equal(t, start.AddDate(1, 0, 0), p.PeriodEnd(start))
	})

	t.Run("free rolls monthly", func(t *testing.T) {
		t.Parallel()
		p := plans.Plan{Interval: plans.IntervalNone}
		assert.Equal(t, start.AddDate(0, 1, 0), p.PeriodEnd(start))
	})
}

func TestComparePlans(t *testing.T) {
	t.Parallel()

	catalogue := plans.Defaults()
	pro := catalogue[plans.PlanPro]
	free := catalogue[plans.PlanFree]
	advanced := catalogue[plans.PlanAdvanced]

	t.Run("downgrade", func(t *testing.T) {
		t.Parallel()
		c := plans.ComparePlans(&pro, &free)
		require.NotNil(t, c)
		assert.True(t, c.IsDowngrade())
		assert.Equal(t, plans.ResourceChange{From: 25, To: 3}, c.DecreasedLimits[plans.ResourceModelTrain])
		assert.Empty(t, c.IncreasedLimits)
	})

	t.Run("upgrade to unlimited", func(t *testing.T) {
		t.Parallel()
		c := plans.ComparePlans(&pro, &advanced)
		require.NotNil(t, c)
		assert.False(t, c.IsDowngrade())
		assert.Equal(t, plans.ResourceChange{From: 25, To: plans.Unlimited}, c.IncreasedLimits[plans.ResourceModelTrain])
	})

	t.Run("unlimited to limited is a decrease", func(t *testing.T) {
		t.Parallel()
		c := plans.ComparePlans(&advanced, &pro)
		require.NotNil(t, c)
		assert.Contains(t, c.DecreasedLimits, plans.ResourceAPICall)
	})

	t.Run("added and removed resources", func(t *testing.T) {
		t.Parallel()
		a := plans.Plan{ID: "a", Limits: map[plans.Resource]int64{plans.ResourceAPICall: 10}}
		b := plans.Plan{ID: "b", Limits: map[plans.Resource]int64{plans.ResourceModelTrain: 1}}
		c := plans.ComparePlans(&a, &b)
		assert.Equal(t, int64(1), c.NewResources[plans.ResourceModelTrain])
		assert.Equal(t, int64(10), c.RemovedResources[plans.ResourceAPICall])
		assert.True(t, c.IsDowngrade())
	})

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, plans.ComparePlans(nil, &free))
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		plans map[string]plans.Plan
		ok    bool
	}{
		{name: "defaults", plans: plans.Defaults(), ok: true},
		{name: "empty", plans: map[string]plans.Plan{}, ok: true},
		{
			name:  "id mismatch",
			plans: map[string]plans.Plan{"a": {ID: "b", Interval: plans.IntervalNone}},
		},
		{
			name:  "empty id",
			plans: map[string]plans.Plan{"a": {Interval: plans.IntervalNone}},
		},
		{
			name:  "negative price",
			plans: map[string]plans.Plan{"a": {ID: "a", Interval: plans.IntervalMonthly, Price: plans.Money{Amount: -1}}},
		},
		{
			name:  "unknown interval",
			plans: map[string]plans.Plan{"a": {ID: "a", Interval: "weekly"}},
		},
		{
			name: "limit below unlimited",
			plans: map[string]plans.Plan{"a": {
				ID: "a", Interval: plans.IntervalNone,
				Limits: map[plans.Resource]int64{plans.ResourceAPICall: -2},
			}},
		},
		{
			name: "unknown resource",
			plans: map[string]plans.Plan{"a": {
				ID: "a", Interval: plans.IntervalNone,
				Limits: map[plans.Resource]int64{"gpu_hours": 1},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := plans.Validate(tt.plans)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, plans.ErrInvalidPlanConfiguration)
		})
	}
}
