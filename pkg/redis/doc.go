// Package redis connects to the Redis instance that backs the usage ledger
// when LEDGER_DRIVER=redis. Connect retries the first ping so the service can
// start alongside Redis; Healthcheck backs the readiness probe.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	ledger := usage.NewRedisStore(client, usage.WithKeyPrefix(cfg.KeyPrefix))
package redis
