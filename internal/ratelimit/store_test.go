// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/internal/store"
	"github.com/technicflux/technicflux/pkg/errutil"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Hit(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	s := ratelimit.NewRedisStore(client, "")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	w, err := s.Hit(ctx, "203.0.113.7", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Hits)
	assert.Equal(t, now.Add(time.Minute), w.ResetAt)

	w, err = s.Hit(ctx, "203.0.113.7", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Hits)

	assert.True(t, mr.Exists(ratelimit.DefaultRedisPrefix+"203.0.113.7"))
	assert.Equal(t, time.Minute, mr.TTL(ratelimit.DefaultRedisPrefix+"203.0.113.7"))

	t.Run("window expires with the key", func(t *testing.T) {
		mr.FastForward(time.Minute)
		w, err := s.Hit(ctx, "203.0.113.7", time.Minute, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), w.Hits)
	})

	t.Run("key without ttl gets one", func(t *testing.T) {
		require.NoError(t, mr.Set(ratelimit.DefaultRedisPrefix+"stale", "41"))
		w, err := s.Hit(ctx, "stale", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, int64(42), w.Hits)
		assert.Equal(t, time.Minute, mr.TTL(ratelimit.DefaultRedisPrefix+"stale"))
	})
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newRedis(t)
	s := ratelimit.NewRedisStore(client, "test:")

	_, err := s.Hit(context.Background(), "a", time.Minute, time.Now())
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:a"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := ratelimit.NewRedisStore(client, "").Hit(context.Background(), "a", time.Minute, time.Now())
	errutil.AssertErrorCode(t, err, "RATELIMIT_HIT_FAILED")
}

func TestLimiter_WithRedisStore(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	l, err := ratelimit.NewLimiter(ratelimit.NewRedisStore(client, ""), ratelimit.Config{Max: 2})
	require.NoError(t, err)
	defer l.Close()

	for range 2 {
		_, err := l.Check(ctx, "203.0.113.7")
		require.NoError(t, err)
	}
	_, err = l.Check(ctx, "203.0.113.7")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestPostgresStore_Hit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("upserts window", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`INSERT INTO rate_limit_windows .* ON CONFLICT \(identity\) DO UPDATE`).
			WithArgs("203.0.113.7", now.Add(time.Minute), now).
			WillReturnRows(mock.NewRows([]string{"hits", "expires_at"}).AddRow(int64(5), now.Add(30*time.Second)))

		w, err := ratelimit.NewPostgresStore(mock).Hit(context.Background(), "203.0.113.7", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, int64(5), w.Hits)
		assert.Equal(t, now.Add(30*time.Second), w.ResetAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure is a database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`INSERT INTO rate_limit_windows`).WillReturnError(errors.New("connection reset"))

		_, err = ratelimit.NewPostgresStore(mock).Hit(context.Background(), "203.0.113.7", time.Minute, now)
		errutil.AssertIs(t, err, store.ErrDatabase, "RATELIMIT_HIT_FAILED")
	})
}

func TestPostgresStore_Prune(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM rate_limit_windows WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := ratelimit.NewPostgresStore(mock).Prune(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
