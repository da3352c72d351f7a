// Package pg bootstraps the PostgreSQL backend: a pgx connection pool with
// startup retries, goose migrations applied from the schema embedded in the
// binary, a readiness probe and constraint-violation helpers.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, db.Migrations, log); err != nil {
//		return err
//	}
package pg
