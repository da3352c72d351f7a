package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/smartml/pkg/logger"
)

func newSweepCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every subscription whose period has ended, once",
		Long: "sweep applies due period-end transitions in one pass and exits. " +
			"It also prunes expired consumption grants on ledgers that do not expire them. " +
			"Run it from an external scheduler when serve runs with --no-sweeper.",
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

			if batch <= 0 {
				batch = a.cfg.SweepBatch
			}
			res, err := a.manager.Sweep(ctx, batch)
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d transitioned=%d failed=%d\n", res.Scanned, res.Transitioned, res.Failed)

			pruned, ok, pruneErr := a.pruneGrants(ctx)
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned_grants=%d\n", pruned)
			}
			return errors.Join(err, pruneErr)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "subscriptions loaded per page (default SWEEP_BATCH)")
	return cmd
}
