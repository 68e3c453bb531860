// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package api_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technicflux/technicflux/internal/api"
	"github.com/technicflux/technicflux/internal/observability"
	"github.com/technicflux/technicflux/internal/ratelimit"
)

// httptest requests come from this address.
const testClientIP = "192.0.2.1"

func newRedisLimiter(t *testing.T, cfg ratelimit.Config, now func() time.Time) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := ratelimit.NewLimiter(ratelimit.NewRedisStore(client, ""), cfg, ratelimit.WithClock(now))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := newRedisLimiter(t, ratelimit.Config{Max: 2, Window: time.Minute}, clock)
	f := newFixture(t, func(cfg *api.Config) {
		cfg.Limiter = limiter
		cfg.Now = clock
	})

	for i := range 2 {
		rec := f.do(http.MethodGet, "/api/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get(api.HeaderRateLimitLimit))
		assert.Equal(t, strconv.Itoa(1-i), rec.Header().Get(api.HeaderRateLimitRemaining))
		assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).Unix(), 10), rec.Header().Get(api.HeaderRateLimitReset))
	}

	rec := f.do(http.MethodGet, "/api/modpack", nil)
	assertError(t, rec, http.StatusTooManyRequests, api.MsgTooManyRequests)
	assert.Equal(t, "60", rec.Header().Get(api.HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(api.HeaderRateLimitRemaining))

	t.Run("outside the api is not limited", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/elsewhere", nil).Code)
	})
}

func TestRateLimit_CountsUnmatchedAPIRoutes(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := newRedisLimiter(t, ratelimit.Config{Max: 2, Window: time.Minute}, clock)
	f := newFixture(t, func(cfg *api.Config) {
		cfg.Limiter = limiter
		cfg.Now = clock
	})

	rec := f.do(http.MethodGet, "/api/nonexistent", nil)
	assertError(t, rec, http.StatusMethodNotAllowed, api.MsgInvalidRoute)
	assert.Equal(t, "1", rec.Header().Get(api.HeaderRateLimitRemaining))

	rec = f.do(http.MethodDelete, "/api/modpack", nil)
	assertError(t, rec, http.StatusMethodNotAllowed, api.MsgInvalidRoute)
	assert.Equal(t, "0", rec.Header().Get(api.HeaderRateLimitRemaining))

	assertError(t, f.do(http.MethodGet, "/api/", nil), http.StatusTooManyRequests, api.MsgTooManyRequests)
	assertError(t, f.do(http.MethodGet, "/api/nonexistent", nil), http.StatusTooManyRequests, api.MsgTooManyRequests)
}

func TestRateLimit_Exempt(t *testing.T) {
	now := time.Now()
	limiter := newRedisLimiter(t, ratelimit.Config{Max: 1, Window: time.Minute, Exempt: []string{"192.0.2.*"}},
		func() time.Time { return now })
	f := newFixture(t, func(cfg *api.Config) { cfg.Limiter = limiter })

	for range 3 {
		rec := f.do(http.MethodGet, "/api/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(api.HeaderRateLimitLimit))
	}
}

type failingLimiter struct{ identities []string }

func (l *failingLimiter) Check(_ context.Context, identity string) (ratelimit.Decision, error) {
	l.identities = append(l.identities, identity)
	return ratelimit.Decision{Allowed: true, Limit: 5, Remaining: 5}, errors.New("store unavailable")
}

func TestRateLimit_FailureAllowsRequest(t *testing.T) {
	limiter := &failingLimiter{}
	f := newFixture(t, func(cfg *api.Config) { cfg.Limiter = limiter })

	rec := f.do(http.MethodGet, "/api/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{testClientIP}, limiter.identities)
	assert.Contains(t, f.logs.String(), "store unavailable")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	f := newFixture(t, func(cfg *api.Config) { cfg.Metrics = metrics })

	f.do(http.MethodGet, "/api/modpack", nil)
	f.do(http.MethodGet, "/api/modpack", nil)
	f.do(http.MethodGet, "/api/modpack/missing", nil)
	f.do(http.MethodGet, "/api/nowhere/at/all/really", nil)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/api/modpack", "GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/api/modpack/:slug", "GET", "404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("unmatched", "GET", "405")), 0)
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.RequestDuration))
}
