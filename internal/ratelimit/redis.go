// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultRedisPrefix namespaces window keys.
const DefaultRedisPrefix = "technicflux:ratelimit:"

// hitScript increments the counter and starts its expiry on the first hit.
// A key left without a TTL gets one so it cannot count forever.
var hitScript = redis.NewScript(`
local hits = redis.call('INCR', KEYS[1])
if hits == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// RedisStore keeps windows as expiring Redis counters. Expired windows
// vanish on their own, so it needs no pruning.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Hit increments identity's counter.
func (s *RedisStore) Hit(ctx context.Context, identity string, window time.Duration, now time.Time) (Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + identity}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, oops.Code("RATELIMIT_HIT_FAILED").With("identity", identity).Wrap(err)
	}
	if len(res) != 2 {
		return Window{}, oops.Code("RATELIMIT_HIT_FAILED").With("identity", identity).Errorf("unexpected script reply %v", res)
	}
	return Window{
		Hits:    res[0],
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)
