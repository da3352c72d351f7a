package plans

// Resource is a metered resource kind.
type Resource string

const (
	ResourceStorageBytes Resource = "storage_bytes"
	ResourceModelTrain   Resource = "model_train"
	ResourceAPICall      Resource = "api_call"
)

// Resources lists every metered resource in display order.
var Resources = []Resource{ResourceModelTrain, ResourceAPICall, ResourceStorageBytes}

// Valid reports whether r is a known metered resource.
func (r Resource) Valid() bool {
	switch r {
	case ResourceStorageBytes, ResourceModelTrain, ResourceAPICall:
		return true
	}
	return false
}

// Cadence is the accounting period length of a resource.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceMonthly Cadence = "monthly"
)

// Cadence returns the accounting period for the resource.
// Training runs are counted per day, API calls and storage per month.
func (r Resource) Cadence() Cadence {
	if r == ResourceModelTrain {
		return CadenceDaily
	}
	return CadenceMonthly
}

// Unlimited marks a resource without a cap (-1 keeps it storable in SQL and BSON integers).
const Unlimited int64 = -1

// BillingInterval is the billing cadence of a plan.
type BillingInterval string

const (
	IntervalNone    BillingInterval = "none" // free plans
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)

// Money is an amount in the smallest currency unit (paise for INR, cents for USD).
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount" bson:"amount"`
	Currency string `json:"currency" yaml:"currency" bson:"currency"`
}
