// Package subscription manages the lifecycle of user subscriptions: signup on
// the free plan, paid activation, cancellation, renewal failure and expiry.
//
// Every user has exactly one current Subscription. Its status moves through a
// fixed transition table built on pkg/statemachine:
//
//	active            --cancel-->            cancelled_pending  (paid plans only)
//	cancelled_pending --period_end-->        expired            (archived, replaced by free)
//	active            --period_end-->        active             (free periods roll forward)
//	active|expired    --payment_succeeded--> active             (new period from payment time)
//	active            --renewal_failed-->    expired            (after the grace period)
//
// Any other event is rejected with ErrInvalidTransition.
//
// Period boundaries are evaluated lazily: Manager.Current settles due events
// before returning, so callers always see the state that applies now. Sweep
// does the same in batches for subscriptions nobody touched, and Sweeper runs
// it on an interval.
//
// Writes use optimistic concurrency on Subscription.Version; the manager
// retries conflicting updates internally. Payments are recorded append-only
// and are unique per provider and gateway transaction id, which makes webhook
// redelivery idempotent.
//
// # Usage
//
//	mgr := subscription.NewManager(store, store, registry,
//	    subscription.WithGracePeriod(72*time.Hour),
//	    subscription.WithProvider(razorpay),
//	    subscription.WithLogger(log),
//	)
//
//	sub, err := mgr.Current(ctx, userID)
//	sub, err = mgr.ApplyPayment(ctx, userID, plans.PlanPro, subscription.PaymentRef{
//	    Provider:     subscription.ProviderRazorpay,
//	    GatewayTxnID: "pay_29QQoUBi66xm2f",
//	    At:           paidAt,
//	})
//
// Store backends: MemoryStore, MongoStore and PostgresStore. Each of them
// implements both Store and PaymentStore.
package subscription
