package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/smartml/pkg/config"
	"github.com/dmitrymomot/smartml/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	var (
		ttl      time.Duration
		audience []string
	)

	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue a bearer token for USER_ID signed with JWT_SECRET",
		Long:  "token issues short-lived tokens for local testing and operations. Production tokens come from the identity service.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg jwt.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			tokens, err := jwt.New(cfg)
			if err != nil {
				return err
			}
			token, err := tokens.Generate(args[0], ttl, audience...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&audience, "audience", nil, "aud claim values")
	return cmd
}
