// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package app

import (
	"fmt"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

func newAccountsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List or remove the accounts on the device",
	}
	cmd.AddCommand(newAccountsListCmd(s), newAccountsRemoveCmd(s))
	return cmd
}

func newAccountsListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the accounts of every application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := s.broker()
			if err != nil {
				return err
			}
			accounts := b.Accounts(cmd.Context())
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts found.")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Options(
				tablewriter.WithHeader([]string{"Home Account ID", "Environment", "Realm", "Username"}),
				tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
			)
			for _, a := range accounts {
				if err := table.Append([]string{a.HomeAccountID, a.Environment, a.Realm, a.Username}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}
			return nil
		},
	}
}

func newAccountsRemoveCmd(s *session) *cobra.Command {
	var homeAccountID, env string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a user and its credentials from every application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := s.broker()
			if err != nil {
				return err
			}
			acc := cache.Account{HomeAccountID: homeAccountID, Environment: env}
			deleted, err := b.RemoveAccountFromDevice(cmd.Context(), acc)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d account(s)\n", deleted.Len())
			return err
		},
	}
	cmd.Flags().StringVar(&homeAccountID, "home-account-id", "", "home account id of the user, uid.utid")
	cmd.Flags().StringVar(&env, "env", "", "environment of the account, such as login.microsoftonline.com")
	_ = cmd.MarkFlagRequired("home-account-id")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}
