// Package mongo connects to MongoDB for the subscription, payment, usage and
// plan collections. New retries the initial connection and ping so the service
// can start alongside the database; Healthcheck backs the readiness probe.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.NewWithDatabase(ctx, cfg, "")
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
