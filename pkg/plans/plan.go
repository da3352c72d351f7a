package plans

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Plan describes a subscription tier and its resource limits.
// A published plan is never mutated; a limit change is published as a new Version.
type Plan struct {
	ID          string             `json:"id" yaml:"id" bson:"_id"`
	Name        string             `json:"name" yaml:"name" bson:"name"`
	Description string             `json:"description,omitempty" yaml:"description" bson:"description"`
	Version     int                `json:"version" yaml:"version" bson:"version"`
	Price       Money              `json:"price" yaml:"price" bson:"price"`
	Interval    BillingInterval    `json:"interval" yaml:"interval" bson:"interval"`
	Limits      map[Resource]int64 `json:"limits" yaml:"limits" bson:"limits"` // -1 represents unlimited
	Public      bool               `json:"public" yaml:"public" bson:"public"`
}

// Limit returns the cap for a resource. A resource missing from the plan is not
// available on it and reported with ok=false.
func (p Plan) Limit(res Resource) (limit int64, ok bool) {
	limit, ok = p.Limits[res]
	return limit, ok
}

// IsFree reports whether the plan is billed at all.
func (p Plan) IsFree() bool {
	return p.Interval == IntervalNone || p.Price.Amount == 0
}

// PeriodEnd returns the end of a billing period starting at start.
// Free plans roll over monthly so their bookkeeping has a boundary too.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	start = start.UTC()
	if p.Interval == IntervalAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	return p
}

// PlanComparison contains the limit differences between two plans.
type PlanComparison struct {
	From             string                      `json:"from"`
	To               string                      `json:"to"`
	IncreasedLimits  map[Resource]ResourceChange `json:"increased_limits"`
	DecreasedLimits  map[Resource]ResourceChange `json:"decreased_limits"`
	NewResources     map[Resource]int64          `json:"new_resources"`
	RemovedResources map[Resource]int64          `json:"removed_resources"`
}

// ResourceChange represents a change in resource limit.
type ResourceChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IsDowngrade returns true if any resource loses capacity.
func (c *PlanComparison) IsDowngrade() bool {
	return len(c.DecreasedLimits) > 0 || len(c.RemovedResources) > 0
}

// ComparePlans returns the differences between current and target plans.
func ComparePlans(current, target *Plan) *PlanComparison {
	if current == nil || target == nil {
		return nil
	}

	comparison := &PlanComparison{
		From:             current.ID,
		To:               target.ID,
		IncreasedLimits:  make(map[Resource]ResourceChange),
		DecreasedLimits:  make(map[Resource]ResourceChange),
		NewResources:     make(map[Resource]int64),
		RemovedResources: make(map[Resource]int64),
	}

	for resource, targetLimit := range target.Limits {
		currentLimit, exists := current.Limits[resource]
		if !exists {
			comparison.NewResources[resource] = targetLimit
			continue
		}
		if targetLimit == currentLimit {
			continue
		}

		change := ResourceChange{From: currentLimit, To: targetLimit}
		switch {
		case currentLimit == Unlimited:
			comparison.DecreasedLimits[resource] = change
		case targetLimit == Unlimited, targetLimit > currentLimit:
			comparison.IncreasedLimits[resource] = change
		default:
			comparison.DecreasedLimits[resource] = change
		}
	}

	for resource, currentLimit := range current.Limits {
		if _, exists := target.Limits[resource]; !exists {
			comparison.RemovedResources[resource] = currentLimit
		}
	}

	return comparison
}

// Validate checks a plan catalogue for configuration errors before it is published.
func Validate(plans map[string]Plan) error {
	for planID, plan := range plans {
		if plan.ID == "" {
			return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan under key %q has empty ID", planID))
		}
		if plan.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}
		if plan.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price: %d", planID, plan.Price.Amount))
		}
		switch plan.Interval {
		case IntervalNone, IntervalMonthly, IntervalAnnual:
		default:
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has unknown billing interval %q", planID, plan.Interval))
		}
		for res, limit := range plan.Limits {
			if !res.Valid() {
				return errors.Join(ErrInvalidPlanConfiguration, ErrUnknownResource,
					fmt.Errorf("plan %s limits unknown resource %q", planID, res))
			}
			if limit < Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has invalid limit %d for %s", planID, limit, res))
			}
		}
	}
	return nil
}
