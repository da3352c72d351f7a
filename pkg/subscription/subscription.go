package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// Subscription is a user's current plan assignment and billing period.
// Each user has exactly one current subscription; superseded ones are archived.
type Subscription struct {
	ID              string     `json:"id" bson:"_id" db:"id"`
	UserID          string     `json:"user_id" bson:"user_id" db:"user_id"`
	PlanID          string     `json:"plan_id" bson:"plan_id" db:"plan_id"`
	Status          Status     `json:"status" bson:"status" db:"status"`
	PeriodStart     time.Time  `json:"period_start" bson:"period_start" db:"period_start"`
	PeriodEnd       time.Time  `json:"period_end" bson:"period_end" db:"period_end"`
	Renew           bool       `json:"renew" bson:"renew" db:"renew"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty" db:"cancelled_at"`
	RenewalFailedAt *time.Time `json:"renewal_failed_at,omitempty" bson:"renewal_failed_at,omitempty" db:"renewal_failed_at"`
	PaymentRef      string     `json:"payment_ref,omitempty" bson:"payment_ref" db:"payment_ref"`
	Version         int64      `json:"version" bson:"version" db:"version"` // optimistic concurrency token
	CreatedAt       time.Time  `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// Entitled reports whether the subscription still grants its plan's limits.
// A cancelled subscription keeps them until the period ends.
func (s *Subscription) Entitled() bool {
	return s.Status == StatusActive || s.Status == StatusCancelledPending
}

// renewalDeadline is the instant a paid subscription expires without a renewal.
func (s *Subscription) renewalDeadline(grace time.Duration) time.Time {
	from := s.PeriodEnd
	if s.RenewalFailedAt != nil && s.RenewalFailedAt.After(from) {
		from = *s.RenewalFailedAt
	}
	return from.Add(grace)
}

func (s *Subscription) clone() *Subscription {
	out := *s
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		out.CancelledAt = &t
	}
	if s.RenewalFailedAt != nil {
		t := *s.RenewalFailedAt
		out.RenewalFailedAt = &t
	}
	return &out
}

// newFreeSubscription starts a free plan period at now.
func newFreeSubscription(userID string, free plans.Plan, now time.Time) *Subscription {
	now = now.UTC()
	return &Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		PlanID:      free.ID,
		Status:      StatusActive,
		PeriodStart: now,
		PeriodEnd:   free.PeriodEnd(now),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
