// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tenantkit/tenantkit/internal/api"
	"github.com/tenantkit/tenantkit/internal/auth"
	authpg "github.com/tenantkit/tenantkit/internal/auth/postgres"
	"github.com/tenantkit/tenantkit/internal/config"
	"github.com/tenantkit/tenantkit/internal/logging"
	"github.com/tenantkit/tenantkit/internal/mail"
	"github.com/tenantkit/tenantkit/internal/memstore"
	"github.com/tenantkit/tenantkit/internal/store"
	"github.com/tenantkit/tenantkit/internal/tenancy"
	tenancypg "github.com/tenantkit/tenantkit/internal/tenancy/postgres"
	"github.com/tenantkit/tenantkit/pkg/errutil"
)

const serviceName = "tenantkit"

// NewServeCmd creates the serve subcommand.
func NewServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API together with the metrics and health endpoints.
Pending migrations are applied first unless database.auto_migrate is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps starts the API with injectable dependencies and blocks
// until ctx is cancelled, a signal arrives or a server fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger.Info("starting tenantkit",
		"env", cfg.Env,
		"database_driver", cfg.Database.Driver,
		"http_addr", cfg.HTTP.Addr)

	if cfg.Database.Driver == config.DriverPostgres && cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	}

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, backend.Ready)
	handler, err := buildHandler(cfg, backend, obsServer, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(cfg, obsServer, logger)
		return oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	apiErrChan := make(chan error, 1)
	go func() {
		defer close(apiErrChan)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Tenantkit API started")
	logger.Info("api listening", "addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-apiErrChan:
		serveErr = oops.Code("SERVE_FAILED").With("operation", "serve api").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	stopObservability(cfg, obsServer, logger)

	logger.Info("shutdown complete")
	return serveErr
}

func stopObservability(cfg *config.Config, obsServer ObservabilityServer, logger *slog.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// buildHandler wires the services over backend and returns the API handler.
func buildHandler(cfg *config.Config, backend *Backend, obsServer ObservabilityServer, logger *slog.Logger) (http.Handler, error) {
	metrics := obsServer.Metrics()
	authOpts := []auth.Option{auth.WithLogger(logger), auth.WithRecorder(metrics)}
	hasher := auth.NewArgon2idHasher()

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Token.Secret), cfg.Token.Algorithm, cfg.Token.TTL)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.NewAuthService(backend.Users, hasher, tokens, authOpts...)
	if err != nil {
		return nil, err
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return nil, err
	}
	resets, err := auth.NewPasswordResetService(backend.Users, backend.Resets, hasher,
		backend.Transactor, mailer, cfg.Frontend.BaseURL, authOpts...)
	if err != nil {
		return nil, err
	}

	tenancySvc, err := tenancy.NewService(tenancy.ServiceConfig{
		Accounts:    backend.Accounts,
		Memberships: backend.Memberships,
		Users:       backend.Users,
		Hasher:      hasher,
		Transactor:  backend.Transactor,
	}, tenancy.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	srv, err := api.NewServer(api.Config{
		Auth:           authSvc,
		Resets:         resets,
		Tenancy:        tenancySvc,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: append([]string{cfg.Frontend.BaseURL}, cfg.HTTP.CORSOrigins...),
	})
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) (auth.ResetMailer, error) {
	switch {
	case cfg.SMTP.Host != "":
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		}, "1 hour")
	case cfg.IsDevelopment():
		logger.Warn("smtp not configured, password reset links will be logged")
		return mail.NewLogMailer(logger), nil
	default:
		logger.Warn("smtp not configured, password reset emails are disabled")
		return mail.DisabledMailer{}, nil
	}
}

// openBackend opens storage for cfg.Database.Driver.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on exit")
		s := memstore.New()
		return &Backend{
			Users:       s.Users(),
			Resets:      s.Resets(),
			Accounts:    s.Accounts(),
			Memberships: s.Memberships(),
			Transactor:  s,
			Ready:       func() bool { return true },
			Close:       func() {},
		}, nil
	}

	opts := store.DefaultConnectOptions()
	opts.MaxConns = cfg.Database.MaxConns
	opts.Logger = logger
	pool, err := store.Connect(ctx, cfg.Database.URL, opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Users:       authpg.NewUserRepository(pool),
		Resets:      authpg.NewPasswordResetRepository(pool),
		Accounts:    tenancypg.NewAccountRepository(pool),
		Memberships: tenancypg.NewMembershipRepository(pool),
		Transactor:  store.NewTransactor(pool),
		Ready: func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		},
		Close: pool.Close,
	}, nil
}

// runAutoMigration applies pending migrations and closes the migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when errCh reports an error.
// It exits when an error is received, the channel is closed, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogErrorContext(ctx, slog.Default(), "server error, triggering shutdown",
				oops.With("server", serverName).Wrap(err))
			cancel()
		}
	case <-ctx.Done():
	}
}
