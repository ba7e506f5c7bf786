// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package app

import (
	"time"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/tests/performance"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/tokencache"
	"github.com/spf13/cobra"
)

// benchStoreName is the store bench fills. It is cleared when bench finishes.
const benchStoreName = "com.microsoft.identity.client.bench"

func newBenchCmd(s *session) *cobra.Command {
	var (
		users, tokens, queries int
		duration               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure token lookups on the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := s.factory.Open(benchStoreName)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Clear(ctx); err != nil {
					s.log.Log(ctx, logger.Warn, "could not clear the bench store", logger.Field("error", err.Error()))
				}
			}()
			c, err := tokencache.New(st, tokencache.WithLogger(s.log))
			if err != nil {
				return err
			}

			accounts, err := performance.Populate(ctx, c, users, tokens)
			if err != nil {
				return err
			}
			durations, err := performance.Measure(ctx, c, accounts, tokens, queries, duration)
			if err != nil {
				return err
			}
			summary, err := performance.Summarize(durations)
			if err != nil {
				return err
			}
			summary.Print(cmd.OutOrStdout(), users, tokens)
			return nil
		},
	}
	cmd.Flags().IntVar(&users, "users", 10, "number of users")
	cmd.Flags().IntVar(&tokens, "tokens", 100, "number of access tokens per user")
	cmd.Flags().IntVar(&queries, "queries", 1000, "maximum number of lookups, 0 for no limit")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "maximum time spent on lookups")
	return cmd
}
