// Package usage is the ledger of metered resource consumption.
//
// Every user owns one Record per resource and accounting period. A Record is
// created lazily on the first metered action in its period and starts at zero,
// so a period rollover is simply a new key. Records are never deleted.
// Amounts are capped at MaxAmount and limit checks are written so that the
// counter can never overflow.
//
// The Store interface is the only writer of records. Its Consume method is a
// single conditional increment: it applies only when the limit is Unlimited or
// the new total stays within the limit. Two concurrent callers can therefore
// never both pass the check and overshoot the cap.
//
// Backends:
//
//   - MemoryStore: mutex guarded map, for tests and single instance setups.
//   - MongoStore: FindOneAndUpdate with the limit encoded in the filter.
//   - RedisStore: Lua scripts executed atomically by the server.
//   - PostgresStore: conditional UPDATE ... RETURNING.
//
// Usage:
//
//	store := usage.NewMemoryStore()
//	period := usage.PeriodFor(plans.ResourceModelTrain.Cadence(), time.Now())
//	key := usage.KeyFor(userID, plans.ResourceModelTrain, period)
//
//	c := usage.NewConsumption(key, 1)
//	rec, applied, err := store.Consume(ctx, c, period, 3)
//	if err != nil {
//		return err
//	}
//	if !applied {
//		// quota exhausted, rec.Used is the current total
//	}
//
// Consume also stores a grant for the consumption. Release undoes only a
// granted consumption, with its exact amount, and at most once; a retried
// release is a no-op and a forged one fails with ErrConsumptionNotFound.
// Grants are kept until GrantRetention after their period ends.
package usage
