// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package app provides the commands of tokencachectl.
package app

import (
	"github.com/AzureAD/microsoft-identity-cache-go/apps/broker"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/logger"
	"github.com/AzureAD/microsoft-identity-cache-go/apps/store"
	"github.com/spf13/cobra"
)

// session is what every command works with, set up from the environment before it runs.
type session struct {
	cfg     Config
	log     *logger.Logger
	factory store.Factory
	release func() error
}

func (s *session) broker() (*broker.Cache, error) {
	return broker.New(s.factory, s.cfg.CallingUID, broker.WithLogger(s.log))
}

// NewRootCmd creates the root command of tokencachectl.
func NewRootCmd() *cobra.Command {
	s := &session{}
	rootCmd := &cobra.Command{
		Use:               "tokencachectl",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Inspect and maintain a device token cache",
		Long: `tokencachectl reads and edits the account and credential caches shared by the
applications of a device. The backend and its encryption are configured with
TOKENCACHE_* environment variables.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := LoadConfig(ctx)
			if err != nil {
				return err
			}
			log, err := cfg.Logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			f, release, err := cfg.Factory(ctx, log)
			if err != nil {
				return err
			}
			*s = session{cfg: cfg, log: log, factory: f, release: release}
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if s.release == nil {
				return nil
			}
			return s.release()
		},
	}

	rootCmd.AddCommand(newAccountsCmd(s), newDumpCmd(s), newBenchCmd(s))
	return rootCmd
}
