// Package entitlement decides whether a user may perform a metered action and
// records the consumption in the usage ledger.
//
// CheckAndConsume resolves the user's subscription and plan, picks the usage
// record of the current period for the resource and performs a single atomic
// conditional increment in the ledger. Two concurrent requests can therefore
// never both pass a limit their combined amount exceeds.
//
//	dec, err := svc.CheckAndConsume(ctx, userID, plans.ResourceModelTrain, 1)
//	switch {
//	case err != nil:
//	    // ErrTemporarilyUnavailable or ErrNotFound: deny, retry later
//	case !dec.Allowed:
//	    // dec.Reason is limit_exceeded or invalid_amount
//	default:
//	    if err := train(ctx); err != nil {
//	        _ = svc.Release(ctx, *dec.Consumption)
//	    }
//	}
//
// Subscriptions that are cancelled but not yet expired keep their plan limits.
// Expired subscriptions are checked against the free plan. Plan limit changes
// apply to the next check without touching existing usage records.
package entitlement
