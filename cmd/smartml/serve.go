package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/smartml/api"
	"github.com/dmitrymomot/smartml/pkg/config"
	"github.com/dmitrymomot/smartml/pkg/httpserver"
	"github.com/dmitrymomot/smartml/pkg/jwt"
	"github.com/dmitrymomot/smartml/pkg/logger"
	"github.com/dmitrymomot/smartml/pkg/subscription"
)

func newServeCmd() *cobra.Command {
	var noSweeper bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(context.WithoutCancel(ctx)); err != nil {
					a.log.ErrorContext(ctx, "shutdown", logger.Error(err))
				}
			}()

			var jwtCfg jwt.Config
			if err := config.Load(&jwtCfg); err != nil {
				return err
			}
			tokens, err := jwt.New(jwtCfg)
			if err != nil {
				return err
			}

			var httpCfg httpserver.Config
			if err := config.Load(&httpCfg); err != nil {
				return err
			}

			router := api.NewRouter(api.Options{
				Entitlements:  a.checker,
				Subscriptions: a.manager,
				Catalog:       a.registry,
				Tokens:        tokens,
				Metrics:       a.metrics,
				Logger:        a.log,
				HealthChecks:  a.checks,
				HealthTimeout: a.cfg.HealthTimeout,
			})

			opts := []httpserver.Option{httpserver.WithLogger(a.log)}
			if !noSweeper {
				sweeper := subscription.NewSweeper(a.manager,
					subscription.WithSweepInterval(a.cfg.SweepInterval),
					subscription.WithSweepBatch(a.cfg.SweepBatch),
					subscription.WithSweeperLogger(a.log),
				)
				opts = append(opts, httpserver.WithWorker("sweeper", sweeper.Run))
				if _, ok := a.ledger.(grantPruner); ok {
					opts = append(opts, httpserver.WithWorker("grant-prune", a.pruneGrantsEvery(time.Hour)))
				}
			}
			if a.cfg.PlansReloadInterval > 0 {
				opts = append(opts, httpserver.WithWorker("plans-reload", a.reloadPlans))
			}

			return httpserver.NewFromConfig(httpCfg, opts...).Run(ctx, router)
		},
	}
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the in-process sweeper (use `smartml sweep` from a scheduler)")
	return cmd
}

// reloadPlans refreshes the plan catalogue on PLANS_RELOAD_INTERVAL. A failed
// reload keeps the previous snapshot.
func (a *app) reloadPlans(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PlansReloadInterval)
	defer ticker.Stop()

	log := a.log.With(logger.Component("plans"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.registry.Reload(ctx); err != nil {
				log.WarnContext(ctx, "plan reload failed, keeping previous catalogue", logger.Error(err))
				continue
			}
			log.DebugContext(ctx, "plans reloaded", slog.Int("plans", len(a.registry.List(ctx))))
		}
	}
}

func (a *app) pruneGrantsEvery(interval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log := a.log.With(logger.Component("usage"))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, _, err := a.pruneGrants(ctx)
				if err != nil {
					log.WarnContext(ctx, "grant prune failed", logger.Error(err))
					continue
				}
				log.DebugContext(ctx, "expired grants pruned", slog.Int64("grants", n))
			}
		}
	}
}
