package usage

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// MaxAmount is the largest amount a single Consume accepts.
const MaxAmount int64 = 1<<53 - 1

// GrantRetention is how long after its period ends a consumption can still
// be released.
const GrantRetention = 24 * time.Hour

// RecordKey identifies one counter: a user, a resource and a period.
type RecordKey struct {
	UserID    string
	Resource  plans.Resource
	PeriodKey string
}

// KeyFor builds the record key for a user and resource in the given period.
func KeyFor(userID string, res plans.Resource, period Period) RecordKey {
	return RecordKey{UserID: userID, Resource: res, PeriodKey: period.Key}
}

// String renders the key as userID:resource:periodKey.
func (k RecordKey) String() string {
	return strings.Join([]string{k.UserID, string(k.Resource), k.PeriodKey}, ":")
}

// Record is a per-user, per-resource, per-period counter.
type Record struct {
	ID          string         `json:"id" bson:"_id" db:"id"`
	UserID      string         `json:"user_id" bson:"user_id" db:"user_id"`
	Resource    plans.Resource `json:"resource" bson:"resource" db:"resource"`
	PeriodKey   string         `json:"period_key" bson:"period_key" db:"period_key"`
	PeriodStart time.Time      `json:"period_start" bson:"period_start" db:"period_start"`
	PeriodEnd   time.Time      `json:"period_end" bson:"period_end" db:"period_end"`
	Used        int64          `json:"used" bson:"used" db:"used"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// Remaining returns how much of limit is left. Unlimited stays Unlimited and
// an over-consumed record (after a downgrade) reports zero.
func (r Record) Remaining(limit int64) int64 {
	if limit == plans.Unlimited {
		return plans.Unlimited
	}
	return max(0, limit-r.Used)
}

func newRecord(key RecordKey, period Period, now time.Time) Record {
	return Record{
		ID:          key.String(),
		UserID:      key.UserID,
		Resource:    key.Resource,
		PeriodKey:   key.PeriodKey,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// room returns the largest used value that still admits amount under limit,
// or -1 when amount can never fit. Computed this way the check cannot overflow.
func room(amount, limit int64) int64 {
	if limit == plans.Unlimited {
		return math.MaxInt64 - amount
	}
	if amount > limit {
		return -1
	}
	return limit - amount
}

func validAmount(amount int64) bool {
	return amount > 0 && amount <= MaxAmount
}

// Consumption is the handle of a granted amount. Stores keep a grant per
// consumption until GrantRetention after the period ends; only a granted
// consumption with a matching amount can be released, and at most once.
type Consumption struct {
	ID        string         `json:"id"`
	RecordID  string         `json:"record_id"`
	UserID    string         `json:"user_id"`
	Resource  plans.Resource `json:"resource"`
	PeriodKey string         `json:"period_key"`
	Amount    int64          `json:"amount"`
}

// NewConsumption returns a handle for amount charged to the record at key.
// It only becomes releasable once a Store.Consume with it was applied.
func NewConsumption(key RecordKey, amount int64) Consumption {
	return Consumption{
		ID:        uuid.NewString(),
		RecordID:  key.String(),
		UserID:    key.UserID,
		Resource:  key.Resource,
		PeriodKey: key.PeriodKey,
		Amount:    amount,
	}
}

// Key returns the key of the record the consumption was charged to.
func (c Consumption) Key() RecordKey {
	return RecordKey{UserID: c.UserID, Resource: c.Resource, PeriodKey: c.PeriodKey}
}

func grantExpiry(period Period) time.Time {
	return period.End.Add(GrantRetention)
}
