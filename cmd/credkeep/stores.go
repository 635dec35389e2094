// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/auth/memory"
	"github.com/holomush/credkeep/internal/auth/postgres"
	"github.com/holomush/credkeep/internal/auth/redisstore"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/store"
)

// Stores holds the repositories the service runs on and the connections
// behind them.
type Stores struct {
	Users  auth.UserRepository
	Resets auth.ResetTokenRepository

	pingers []func(ctx context.Context) error
	closers []func()
}

// Ping checks every backing connection. Memory stores are always reachable.
func (s *Stores) Ping(ctx context.Context) error {
	for _, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// openStores connects the backends selected by cfg.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	stores := &Stores{}

	var db postgres.DB
	if cfg.UsesPostgres() {
		opts := store.DefaultConnectOptions()
		opts.MaxConns = cfg.Database.MaxConns
		opts.Logger = logger
		pool, err := store.Connect(ctx, cfg.Database.URL, opts)
		if err != nil {
			return nil, err
		}
		db = pool
		stores.pingers = append(stores.pingers, pool.Ping)
		stores.closers = append(stores.closers, pool.Close)
		logger.Info("connected to database")
	}

	switch cfg.Store {
	case config.StorePostgres:
		stores.Users = postgres.NewUserRepository(db)
	case config.StoreMemory:
		stores.Users = memory.NewUserRepository()
		logger.Warn("using in-memory user store, accounts are lost on restart")
	default:
		stores.Close()
		return nil, oops.Code("CONFIG_INVALID").With("key", "store").Errorf("unknown store %q", cfg.Store)
	}

	switch backend := cfg.ResetStore(); backend {
	case config.StorePostgres:
		stores.Resets = postgres.NewResetTokenRepository(db)
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			stores.Close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		stores.Resets = redisstore.NewResetTokenRepository(rdb)
		stores.pingers = append(stores.pingers, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		stores.closers = append(stores.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Debug("error closing redis client", "error", err)
			}
		})
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	case config.StoreMemory:
		stores.Resets = memory.NewResetTokenRepository()
	default:
		stores.Close()
		return nil, oops.Code("CONFIG_INVALID").With("key", "reset.store").Errorf("unknown reset store %q", backend)
	}

	return stores, nil
}
