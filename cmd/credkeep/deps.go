// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/observability"
	"github.com/holomush/credkeep/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoresFactory opens the user and reset token stores.
	// Default: openStores
	StoresFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error)

	// MigratorFactory creates a migrator for the database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// NotifierFactory creates the outgoing mail notifier.
	// Default: newNotifier
	NotifierFactory func(cfg config.SMTPConfig, logger *slog.Logger) (auth.Notifier, error)

	// APIServerFactory creates the HTTP API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, svc web.Credentials, opts ...web.Option) (Server, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// AutoMigrator is the part of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Server is a listener with the Start/Stop lifecycle shared by the API and
// observability servers.
type Server interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Server
	Metrics() *observability.Metrics
}
