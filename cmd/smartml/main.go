package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smartml",
		Short:         "Smart ML Assistant entitlement service",
		Long:          "smartml enforces plan limits on metered ML actions and manages the subscription lifecycle.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSlice("env-file", nil, "dotenv files loaded before the environment is read")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		files, err := cmd.Flags().GetStringSlice("env-file")
		if err != nil {
			return err
		}
		return loadEnvFiles(files)
	}

	root.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newPlansCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
