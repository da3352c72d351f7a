package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/smartml/internal/db"
	"github.com/dmitrymomot/smartml/pkg/config"
	"github.com/dmitrymomot/smartml/pkg/pg"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			log, err := newLogger()
			if err != nil {
				return err
			}

			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			if cfg.MigrationsPath == "" {
				cfg.MigrationsPath = db.MigrationsDir
			}

			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, cfg, db.Migrations, log); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied", slog.String("table", cfg.MigrationsTable))
			return nil
		},
	}
}
