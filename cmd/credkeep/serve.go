// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/logging"
	"github.com/holomush/credkeep/internal/mail"
	"github.com/holomush/credkeep/internal/observability"
	"github.com/holomush/credkeep/internal/store"
	"github.com/holomush/credkeep/internal/web"
	"github.com/holomush/credkeep/pkg/errutil"
)

const (
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the credential API server",
		Long: `Start the HTTP API under /api/users together with the metrics and
health endpoints. Pending database migrations are applied first unless
database.auto_migrate is false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Defaults()
	cmd.Flags().String("http-addr", defaults["http.addr"].(string), "API listen address")
	cmd.Flags().String("metrics-addr", defaults["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults["log.format"].(string), "log format (json or text)")
	cmd.Flags().String("log-level", defaults["log.level"].(string), "minimum log level (debug, info, warn, error)")
	cmd.Flags().String("store", defaults["store"].(string), "user store (postgres or memory)")
	cmd.Flags().String("reset-store", "", "reset token store (postgres, redis or memory; default: same as --store)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	if deps.StoresFactory == nil {
		deps.StoresFactory = openStores
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = newNotifier
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = func(addr string, svc web.Credentials, opts ...web.Option) (Server, error) {
			return web.NewServer(addr, svc, opts...)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	logger := logging.SetDefault("credkeep", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger.Info("starting credkeep",
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store,
		"reset_store", cfg.ResetStore(),
	)

	if cfg.UsesPostgres() && cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	stores, err := deps.StoresFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").Wrap(err)
	}
	defer stores.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics are recorded even when nothing serves them.
	var ready atomic.Bool
	var obsServer ObservabilityServer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
			if !ready.Load() {
				return false
			}
			pingCtx, pingCancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer pingCancel()
			return stores.Ping(pingCtx) == nil
		})
		metrics = obsServer.Metrics()
	}

	svc, resets, err := newService(cfg, stores, deps, metrics, logger)
	if err != nil {
		return err
	}

	apiServer, err := deps.APIServerFactory(cfg.HTTP.Addr, svc,
		web.WithLogger(logger),
		web.WithMetrics(metrics),
		web.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
	)
	if err != nil {
		return oops.Code("API_SERVER_CREATE_FAILED").Wrap(err)
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopServers(logger, obsServer)
		return oops.Code("API_SERVER_START_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	var purgeWG sync.WaitGroup
	if cfg.Reset.PurgeInterval > 0 {
		purgeWG.Add(1)
		go func() {
			defer purgeWG.Done()
			runPurgeLoop(ctx, resets, cfg.Reset.PurgeInterval, metrics, logger)
		}()
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("credkeep listening on " + apiServer.Addr())
	logger.Info("credkeep ready", "http_addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	cancel()
	stopServers(logger, apiServer, obsServer)
	purgeWG.Wait()

	logger.Info("shutdown complete")
	return nil
}

// newService wires the credential service over stores.
func newService(cfg *config.Config, stores *Stores, deps *ServeDeps, metrics *observability.Metrics, logger *slog.Logger) (*auth.Service, *auth.ResetManager, error) {
	sessions, err := auth.NewSessionIssuer([]byte(cfg.Session.Secret), auth.WithSessionTTL(cfg.Session.TTL))
	if err != nil {
		return nil, nil, err
	}
	resets, err := auth.NewResetManager(stores.Resets, auth.WithResetTTL(cfg.Reset.TTL))
	if err != nil {
		return nil, nil, err
	}
	notifier, err := deps.NotifierFactory(cfg.SMTP, logger)
	if err != nil {
		return nil, nil, oops.Code("NOTIFIER_CREATE_FAILED").Wrap(err)
	}

	svc, err := auth.NewService(auth.Dependencies{
		Users:    stores.Users,
		Resets:   resets,
		Hasher:   auth.NewArgon2idHasher(),
		Sessions: sessions,
		Notifier: notifier,
		Mail: auth.ResetMailConfig{
			FrontendURL: cfg.FrontendURL,
			From:        cfg.SMTP.From,
		},
	}, auth.WithLogger(logger), auth.WithObserver(metrics))
	if err != nil {
		return nil, nil, err
	}
	return svc, resets, nil
}

// newNotifier returns an SMTP notifier, or the disabled notifier when no
// relay is configured.
func newNotifier(cfg config.SMTPConfig, logger *slog.Logger) (auth.Notifier, error) {
	if !cfg.Enabled() {
		logger.Warn("smtp.host is not set, password reset email is disabled")
		return mail.Disabled(logger), nil
	}
	n, err := mail.NewSMTPNotifier(mail.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Secure:   cfg.Secure,
		Timeout:  cfg.Timeout,
	}, mail.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// runAutoMigration applies pending migrations and closes the migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// stopServers stops each non-nil server under a shared deadline.
func stopServers(logger *slog.Logger, servers ...Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Stop(ctx); err != nil {
			errutil.LogErrorContext(ctx, logger, slog.LevelWarn, "error stopping server", err)
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
