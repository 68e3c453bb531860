// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package sequence issues monotonically increasing integers per named counter.
package sequence

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/store"
)

// ModIDKey is the counter that numbers mod families.
const ModIDKey = "modId"

// Sequencer issues per-key sequence numbers. Concurrent Next calls for one
// key never return the same value and never skip one.
type Sequencer interface {
	// Next increments the counter and returns the new value. The first value
	// issued for an unseen key is 1.
	Next(ctx context.Context, key string) (int64, error)
}

// PostgresSequencer keeps counters in the counters table. Next joins the
// caller's transaction when ctx carries one, so a rolled-back transaction
// also rolls back the increment.
type PostgresSequencer struct {
	db store.DB
}

// NewPostgresSequencer creates a PostgresSequencer.
func NewPostgresSequencer(db store.DB) *PostgresSequencer {
	return &PostgresSequencer{db: db}
}

// Next atomically increments key.
func (s *PostgresSequencer) Next(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, oops.Code("SEQUENCE_INVALID_KEY").Errorf("sequence key cannot be empty")
	}

	var seq int64
	err := store.Conn(ctx, s.db).QueryRow(ctx, `
		INSERT INTO counters (key, seq) VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET seq = counters.seq + 1
		RETURNING seq
	`, key).Scan(&seq)
	if err != nil {
		return 0, oops.With("key", key).Wrap(store.DatabaseError("SEQUENCE_NEXT_FAILED", "increment counter", err))
	}
	return seq, nil
}

// Current returns the last value issued for key, or 0 if none was.
func (s *PostgresSequencer) Current(ctx context.Context, key string) (int64, error) {
	var seq int64
	err := store.Conn(ctx, s.db).QueryRow(ctx, `SELECT seq FROM counters WHERE key = $1`, key).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.With("key", key).Wrap(store.DatabaseError("SEQUENCE_READ_FAILED", "read counter", err))
	}
	return seq, nil
}

// Compile-time interface check.
var _ Sequencer = (*PostgresSequencer)(nil)
