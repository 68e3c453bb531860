// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

//go:build integration

// Package storetest starts a disposable PostgreSQL for integration tests.
package storetest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/technicflux/technicflux/internal/store"
)

// Database is a migrated PostgreSQL container and a pool connected to it.
type Database struct {
	URL  string
	Pool *pgxpool.Pool

	container *postgres.PostgresContainer
}

// Start runs a postgres:16-alpine container and applies every migration.
func Start(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("technicflux_test"),
		postgres.WithUsername("technicflux"),
		postgres.WithPassword("technicflux"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, oops.With("operation", "start postgres container").Wrap(err)
	}

	db := &Database{container: container}
	db.URL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		db.Close(ctx)
		return nil, oops.With("operation", "container connection string").Wrap(err)
	}

	migrator, err := store.NewMigrator(db.URL)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	defer migrator.Close() //nolint:errcheck // test setup
	if err := migrator.Up(); err != nil {
		db.Close(ctx)
		return nil, err
	}

	db.Pool, err = store.Connect(ctx, db.URL, store.ConnectOptions{})
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// Truncate empties the given tables between tests.
func (d *Database) Truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := d.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return oops.With("table", table).Wrap(err)
		}
	}
	return nil
}

// Close releases the pool and terminates the container.
func (d *Database) Close(ctx context.Context) {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.container != nil {
		_ = d.container.Terminate(ctx) //nolint:errcheck // best effort
	}
}
