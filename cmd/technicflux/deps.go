// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
	authpg "github.com/technicflux/technicflux/internal/auth/postgres"
	"github.com/technicflux/technicflux/internal/catalog"
	catalogpg "github.com/technicflux/technicflux/internal/catalog/postgres"
	"github.com/technicflux/technicflux/internal/config"
	"github.com/technicflux/technicflux/internal/observability"
	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/internal/sequence"
	"github.com/technicflux/technicflux/internal/store"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// OpenRuntime connects to the database and builds the services.
	// Default: openRuntime
	OpenRuntime func(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error)

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Environ overrides the environment read by the config loader.
	// Default: os.Environ
	Environ func() []string

	// Stdin is read for passwords that are not passed as flags.
	// Default: the command's input
	Stdin io.Reader

	configFile string
}

func (d *Deps) withDefaults() *Deps {
	if d == nil {
		d = &Deps{}
	}
	if d.OpenRuntime == nil {
		d.OpenRuntime = openRuntime
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
	return d
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() *prometheus.Registry
}

// Runtime holds the services the commands work with.
type Runtime struct {
	Users     *auth.Directory
	Keys      *auth.KeyRegistry
	Catalog   *catalog.Service
	RateStore ratelimit.Store

	// Ping reports whether the database answers.
	Ping func(ctx context.Context) error
	// Close releases every connection.
	Close func()
}

// openRuntime connects to PostgreSQL, and to Redis when configured, and
// builds the services over them.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	pool, err := store.Connect(connectCtx, cfg.Database.URL.String(), store.ConnectOptions{})
	if err != nil {
		return nil, err
	}
	closers := []func(){pool.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	logger.InfoContext(ctx, "connected to database")

	hasher := auth.NewHashPool(auth.NewArgon2idHasher(), cfg.Auth.HashWorkers, reg)
	users := authpg.NewUserRepository(pool)
	dir, err := auth.NewDirectory(users, hasher, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	keys, err := auth.NewKeyRegistry(authpg.NewAPIKeyRepository(pool), hasher, auth.KeyRegistryConfig{
		MasterKey:         cfg.Auth.MasterKey.String(),
		FingerprintSecret: cfg.Auth.KeyFingerprintSecret.String(),
	}, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Mods:       catalogpg.NewModRepository(pool),
		Modpacks:   catalogpg.NewModpackRepository(pool),
		Builds:     catalogpg.NewBuildRepository(pool),
		Users:      users,
		Sequencer:  sequence.NewPostgresSequencer(pool),
		Transactor: store.NewTransactor(pool),
		Logger:     logger,
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	var rates ratelimit.Store = ratelimit.NewPostgresStore(pool)
	if url := cfg.Redis.URL.String(); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			closeAll()
			return nil, oops.Code("CONFIG_INVALID").With("field", "redis.url").Wrap(err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(connectCtx).Err(); err != nil {
			closeAll()
			return nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
		}
		rates = ratelimit.NewRedisStore(client, cfg.Redis.Prefix)
		logger.InfoContext(ctx, "rate limit windows kept in redis")
	}

	return &Runtime{
		Users:     dir,
		Keys:      keys,
		Catalog:   svc,
		RateStore: rates,
		Ping:      pool.Ping,
		Close:     closeAll,
	}, nil
}
