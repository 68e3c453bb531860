// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/technicflux/technicflux/internal/store"
)

// PostgresStore keeps windows in the rate_limit_windows table.
type PostgresStore struct {
	db store.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db store.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Hit increments identity's counter in one upsert. An expired row restarts
// at 1 with a fresh expiry.
func (s *PostgresStore) Hit(ctx context.Context, identity string, window time.Duration, now time.Time) (Window, error) {
	var w Window
	err := s.db.QueryRow(ctx, `
		INSERT INTO rate_limit_windows (identity, hits, expires_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (identity) DO UPDATE SET
			hits = CASE WHEN rate_limit_windows.expires_at <= $3 THEN 1
			            ELSE rate_limit_windows.hits + 1 END,
			expires_at = CASE WHEN rate_limit_windows.expires_at <= $3 THEN EXCLUDED.expires_at
			                  ELSE rate_limit_windows.expires_at END
		RETURNING hits, expires_at
	`, identity, now.Add(window), now).Scan(&w.Hits, &w.ResetAt)
	if err != nil {
		return Window{}, store.DatabaseError("RATELIMIT_HIT_FAILED", "count request", err)
	}
	w.ResetAt = w.ResetAt.UTC()
	return w, nil
}

// Prune deletes windows that expired at or before now.
func (s *PostgresStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM rate_limit_windows WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, store.DatabaseError("RATELIMIT_PRUNE_FAILED", "prune windows", err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface checks.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Pruner = (*PostgresStore)(nil)
)
