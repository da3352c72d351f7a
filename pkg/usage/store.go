package usage

import "context"

// Store persists usage records. It is the only writer of Record documents.
type Store interface {
	// GetOrCreate returns the record for key, creating it with a zero counter.
	GetOrCreate(ctx context.Context, key RecordKey, period Period) (Record, error)

	// Consume adds c.Amount to the record at c.Key() iff limit is Unlimited or
	// used+amount <= limit, and stores a grant for c.ID. The check, the
	// increment and the grant are one atomic step. It returns the record after
	// the operation and whether the increment was applied.
	Consume(ctx context.Context, c Consumption, period Period, limit int64) (Record, bool, error)

	// Release subtracts c.Amount if c was granted by Consume with the same
	// amount and was not released yet. A second release of the same
	// consumption returns applied=false and changes nothing. An unknown or
	// mismatched consumption yields ErrConsumptionNotFound.
	Release(ctx context.Context, c Consumption) (Record, bool, error)

	// Get returns the record for key or ErrRecordNotFound.
	Get(ctx context.Context, key RecordKey) (Record, error)
}
