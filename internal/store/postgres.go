// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package store provides the PostgreSQL plumbing shared by every repository:
// pool construction, transaction propagation, error classification and
// schema migrations.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ErrDatabase marks failures of the store itself: unreachable server, failed
// query, unexpected scan error. Callers map it to a generic internal error.
var ErrDatabase = errors.New("database error")

// DB is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DatabaseError wraps err as an ErrDatabase failure with the given code. The
// original error stays in the message for logs; errors.Is(err, ErrDatabase)
// holds for the result.
func DatabaseError(code, operation string, err error) error {
	return oops.Code(code).
		With("operation", operation).
		Wrap(errors.Join(ErrDatabase, err))
}

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// MaxAttempts bounds connection attempts. Zero means 5.
	MaxAttempts uint64
	// InitialBackoff is the first retry delay. Zero means 500ms.
	InitialBackoff time.Duration
	// MaxConns overrides the pool size when positive.
	MaxConns int32
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the server is not yet accepting connections.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var pool *pgxpool.Pool
	policy := retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff))
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			slog.WarnContext(ctx, "database not ready, retrying", "error", err)
			return retry.RetryableError(oops.Code("DB_CONNECT_FAILED").Wrap(err))
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempts).
			Wrap(errors.Join(ErrDatabase, err))
	}
	return pool, nil
}
