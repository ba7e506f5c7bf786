// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package app

import (
	"fmt"
	"sort"

	"github.com/AzureAD/microsoft-identity-cache-go/apps/cache"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/spf13/cobra"
)

func newDumpCmd(s *session) *cobra.Command {
	var (
		name      string
		showValue bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the entries of a store",
		Long: `dump prints the key and kind of every entry of the named store, which defaults to
the account and credential cache. Secrets are printed only with --values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := s.factory.Open(name)
			if err != nil {
				return err
			}
			all, err := st.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			for _, k := range keys {
				kind, ok := cache.Classify(k, all[k])
				label := kind.String()
				if !ok {
					label = "unreadable"
				}
				if showValue {
					fmt.Fprintf(out, "%s\t%s\t%s\n", label, k, all[k])
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", label, k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", store.DefaultCacheName, "name of the store")
	cmd.Flags().BoolVar(&showValue, "values", false, "print values as well as keys")
	return cmd
}
