// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/tenantkit/tenantkit/internal/config"
	"github.com/tenantkit/tenantkit/internal/xdg"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
}

// NewRootCmd creates the root command for the tenantkit CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "tenantkit",
		Short: "Tenantkit - multi-tenant account and user management API",
		Long: `Tenantkit serves a JSON API for organisation accounts, their users,
session tokens and password resets, backed by PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/tenantkit/config.yaml if present)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file read before the environment (missing is ignored)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(flags))
	cmd.AddCommand(NewMigrateCmd(flags))
	cmd.AddCommand(NewPruneTokensCmd(flags))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags set on cmd. Without --config the XDG config file is used if present.
func (f *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file := f.configFile
	if file == "" {
		file = xdg.DefaultConfigFile()
	}
	return config.Load(config.LoadOptions{
		File:   file,
		DotEnv: f.envFile,
		Flags:  cmd.Flags(),
	})
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tenantkit %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
