// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import (
	"context"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// SecretHasher is the context-aware hashing surface used by Directory and
// KeyRegistry.
type SecretHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hash string) (bool, error)
	NeedsUpgrade(hash string) bool
}

// HashPool bounds how many hash computations run at once. A burst of login
// or key-verification attempts queues on the pool instead of saturating every
// CPU the API handlers need.
//
// Waiting for a slot honors ctx; a computation that has started runs to
// completion.
type HashPool struct {
	hasher   PasswordHasher
	sem      *semaphore.Weighted
	workers  int
	inFlight prometheus.Gauge
	waiting  prometheus.Gauge
}

// NewHashPool creates a pool with the given number of workers. workers <= 0
// means GOMAXPROCS. When reg is non-nil the pool's gauges are registered.
func NewHashPool(hasher PasswordHasher, workers int, reg prometheus.Registerer) *HashPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &HashPool{
		hasher:  hasher,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "technicflux_hash_pool_in_flight",
			Help: "Hash computations currently running",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "technicflux_hash_pool_waiting",
			Help: "Hash computations waiting for a worker",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.inFlight, p.waiting)
	}
	return p
}

// Workers returns the pool size.
func (p *HashPool) Workers() int {
	return p.workers
}

// Hash hashes plaintext on a pool worker.
func (p *HashPool) Hash(ctx context.Context, plaintext string) (string, error) {
	var (
		hash string
		err  error
	)
	if acqErr := p.run(ctx, func() { hash, err = p.hasher.Hash(plaintext) }); acqErr != nil {
		return "", acqErr
	}
	return hash, err
}

// Verify checks plaintext against hash on a pool worker.
func (p *HashPool) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	var (
		ok  bool
		err error
	)
	if acqErr := p.run(ctx, func() { ok, err = p.hasher.Verify(plaintext, hash) }); acqErr != nil {
		return false, acqErr
	}
	return ok, err
}

// NeedsUpgrade is cheap and runs inline.
func (p *HashPool) NeedsUpgrade(hash string) bool {
	return p.hasher.NeedsUpgrade(hash)
}

func (p *HashPool) run(ctx context.Context, fn func()) error {
	p.waiting.Inc()
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Dec()
	if err != nil {
		return oops.Code("AUTH_HASH_POOL_CANCELLED").Wrap(err)
	}
	defer p.sem.Release(1)

	p.inFlight.Inc()
	defer p.inFlight.Dec()
	fn()
	return nil
}

// Compile-time interface check.
var _ SecretHasher = (*HashPool)(nil)
