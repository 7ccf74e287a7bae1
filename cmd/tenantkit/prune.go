// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tenantkit/tenantkit/internal/auth"
	"github.com/tenantkit/tenantkit/internal/config"
	"github.com/tenantkit/tenantkit/internal/logging"
	"github.com/tenantkit/tenantkit/internal/mail"
)

type backendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

// NewPruneTokensCmd creates the prune-tokens subcommand.
func NewPruneTokensCmd(flags *globalFlags) *cobra.Command {
	return newPruneTokensCmd(flags, openBackend)
}

func newPruneTokensCmd(flags *globalFlags, open backendFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "prune-tokens",
		Short: "Delete expired password reset tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := pruneTokens(cmd.Context(), cfg, open)
			if err != nil {
				return err
			}
			cmd.Printf("Pruned %d expired reset tokens\n", n)
			return nil
		},
	}
}

func pruneTokens(ctx context.Context, cfg *config.Config, open backendFactory) (int64, error) {
	logger := logging.Setup(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), nil)

	backend, err := open(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer backend.Close()

	resets, err := auth.NewPasswordResetService(backend.Users, backend.Resets, auth.NewArgon2idHasher(),
		backend.Transactor, mail.DisabledMailer{}, cfg.Frontend.BaseURL, auth.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	return resets.PruneExpired(ctx)
}
