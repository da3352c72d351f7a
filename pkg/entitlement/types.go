package entitlement

import (
	"time"

	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

// Reason explains a denied decision.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonLimitExceeded          Reason = "limit_exceeded"
	ReasonInvalidAmount          Reason = "invalid_amount"
	ReasonTemporarilyUnavailable Reason = "temporarily_unavailable"
	ReasonNotFound               Reason = "not_found"
)

// Decision is the outcome of CheckAndConsume. Remaining is plans.Unlimited on
// unlimited plans. Consumption is set only when the amount was granted.
type Decision struct {
	Allowed     bool               `json:"allowed"`
	Resource    plans.Resource     `json:"resource"`
	Remaining   int64              `json:"remaining"`
	Limit       int64              `json:"limit"`
	Used        int64              `json:"used"`
	Reason      Reason             `json:"reason,omitempty"`
	PlanID      string             `json:"plan_id,omitempty"`
	PeriodEnd   time.Time          `json:"period_end,omitzero"`
	Consumption *usage.Consumption `json:"consumption,omitempty"`
}

// ResourceUsage is the state of one metered resource in the current period.
type ResourceUsage struct {
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	PeriodEnd time.Time `json:"period_end"`
}

// Summary reports a user's usage against the plan in force.
type Summary struct {
	UserID    string                           `json:"user_id"`
	PlanID    string                           `json:"plan_id"`
	Status    subscription.Status              `json:"status"`
	Resources map[plans.Resource]ResourceUsage `json:"resources"`
}

// Overage is a resource whose current usage exceeds a target plan's limit.
type Overage struct {
	Resource plans.Resource `json:"resource"`
	Used     int64          `json:"used"`
	Limit    int64          `json:"limit"`
}
