// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/logging"
	"github.com/holomush/credkeep/pkg/errutil"
)

// Purger removes expired reset tokens.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgeObserver records how many tokens a purge removed.
type PurgeObserver interface {
	ObservePurge(removed int64)
}

var _ Purger = (*auth.ResetManager)(nil)

// runPurgeLoop purges once per interval until ctx is done. Failures are
// logged and retried on the next tick.
func runPurgeLoop(ctx context.Context, p Purger, interval time.Duration, obs PurgeObserver, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errutil.LogErrorContext(ctx, logger, slog.LevelWarn, "reset token purge failed", err)
				continue
			}
			obs.ObservePurge(n)
			if n > 0 {
				logger.Debug("purged expired reset tokens", "removed", n)
			}
		}
	}
}

// NewPurgeCmd creates the purge subcommand.
func NewPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired password reset tokens once",
		Long: `Delete every reset token whose expiry has passed. The server does this
on its own every reset.purge_interval; this command is for cron jobs and
deployments that disable the in-process loop.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.Setup("credkeep", version, cfg.Log.Format, cmd.ErrOrStderr())
			stores, err := openStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			resets, err := auth.NewResetManager(stores.Resets)
			if err != nil {
				return err
			}
			return runPurge(cmd, resets)
		},
	}
	cmd.Flags().String("store", "", "user store (postgres or memory)")
	cmd.Flags().String("reset-store", "", "reset token store (postgres, redis or memory)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	return cmd
}

func runPurge(cmd *cobra.Command, p Purger) error {
	n, err := p.PurgeExpired(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d expired reset token(s)\n", n)
	return nil
}
