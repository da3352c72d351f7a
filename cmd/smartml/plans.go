package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/smartml/pkg/config"
	"github.com/dmitrymomot/smartml/pkg/mongo"
	"github.com/dmitrymomot/smartml/pkg/plans"
)

func newPlansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage the plan catalogue",
	}
	cmd.AddCommand(newPlansSeedCmd(), newPlansPublishCmd(), newPlansShowCmd())
	return cmd
}

type plansFileConfig struct {
	File string `env:"PLANS_FILE"`
}

// catalogueFrom reads a YAML catalogue from path, falling back to PLANS_FILE
// and then to the built-in plans.
func catalogueFrom(path string) (map[string]plans.Plan, error) {
	if path == "" {
		var cfg plansFileConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		path = cfg.File
	}
	if path == "" {
		return plans.Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return plans.ParseYAML(data)
}

func newPlansSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert missing plans into MongoDB; existing plans are left untouched",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			catalogue, err := catalogueFrom(file)
			if err != nil {
				return err
			}

			var cfg mongo.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			db, err := mongo.NewWithDatabase(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer func() { _ = db.Client().Disconnect(ctx) }()

			inserted, err := plans.NewMongoSource(db).Seed(ctx, catalogue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d plans\n", inserted, len(catalogue))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalogue (default PLANS_FILE, then built-in plans)")
	return cmd
}

func newPlansPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish new plan versions from a YAML catalogue to MongoDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalogue, err := catalogueFrom(args[0])
			if err != nil {
				return err
			}

			var cfg mongo.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			db, err := mongo.NewWithDatabase(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer func() { _ = db.Client().Disconnect(ctx) }()

			src := plans.NewMongoSource(db)
			for _, id := range slices.Sorted(maps.Keys(catalogue)) {
				if err := src.Publish(ctx, catalogue[id]); err != nil {
					return fmt.Errorf("plan %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s v%d\n", id, catalogue[id].Version)
			}
			return nil
		},
	}
	return cmd
}

func newPlansShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Validate and print a catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalogue, err := catalogueFrom(file)
			if err != nil {
				return err
			}
			if err := plans.Validate(catalogue); err != nil {
				return err
			}

			reg, err := plans.NewRegistry(cmd.Context(), plans.NewInMemSource(catalogue))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tPRICE\tINTERVAL\tMODEL_TRAIN/DAY\tAPI_CALL/MONTH\tSTORAGE_BYTES")
			for _, p := range reg.List(cmd.Context()) {
				fmt.Fprintf(w, "%s\t%d\t%d %s\t%s\t%s\t%s\t%s\n",
					p.ID, p.Version, p.Price.Amount, p.Price.Currency, p.Interval,
					limitString(p, plans.ResourceModelTrain),
					limitString(p, plans.ResourceAPICall),
					limitString(p, plans.ResourceStorageBytes),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalogue (default PLANS_FILE, then built-in plans)")
	return cmd
}

func limitString(p plans.Plan, res plans.Resource) string {
	limit, ok := p.Limit(res)
	switch {
	case !ok:
		return "-"
	case limit == plans.Unlimited:
		return "unlimited"
	default:
		return fmt.Sprint(limit)
	}
}
