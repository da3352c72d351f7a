// Package plans is the plan registry: a read-only catalogue of subscription tiers and their
// resource limits.
//
// Plans are published as immutable snapshots. A Source loads them (in-memory, YAML file or
// MongoDB), the Registry validates and serves them, and Reload swaps the whole snapshot at once so
// a limit change reaches every subsequent entitlement check without a redeploy.
//
// Basic usage:
//
//	reg, err := plans.NewRegistry(ctx, plans.NewInMemSource(plans.Defaults()))
//	if err != nil {
//		return err
//	}
//
//	plan, err := reg.Get(ctx, "pro")
//	if errors.Is(err, plans.ErrPlanNotFound) {
//		// unknown plan
//	}
//
//	limit, ok := plan.Limit(plans.ResourceModelTrain)
//	if ok && limit == plans.Unlimited {
//		// no cap
//	}
//
// Seeding a MongoDB catalogue is idempotent: Seed upserts by plan ID and never creates a
// duplicate or overwrites an already published plan.
package plans
