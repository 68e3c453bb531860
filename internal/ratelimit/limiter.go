// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package ratelimit implements fixed-window request limiting per client
// identity, with windows kept in a store shared by every API process.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/pkg/errutil"
)

// Default limiter values.
const (
	// DefaultMax is the number of requests allowed per window.
	DefaultMax = 100

	// DefaultWindow is the window length.
	DefaultWindow = time.Minute

	// DefaultCleanupInterval is how often expired windows are pruned from
	// stores that need it.
	DefaultCleanupInterval = 5 * time.Minute
)

// ErrRateLimited is returned by Check when the identity is over its limit.
var ErrRateLimited = errors.New("rate limited")

// Window is the state of one identity's counter after a hit.
type Window struct {
	Hits    int64
	ResetAt time.Time
}

// Store counts hits per identity.
type Store interface {
	// Hit atomically increments identity's counter. When the current window
	// has expired the counter restarts at 1 with a window ending at
	// now+window.
	Hit(ctx context.Context, identity string, window time.Duration, now time.Time) (Window, error)
}

// Pruner is implemented by stores whose expired windows must be deleted
// explicitly.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Config configures a Limiter.
type Config struct {
	// Max is the number of requests allowed per window. Defaults to
	// DefaultMax if zero or negative.
	Max int

	// Window is the window length. Defaults to DefaultWindow if zero.
	Window time.Duration

	// Exempt lists glob patterns of identities that are never counted.
	// Segments are separated by '.', so "10.0.*.*" matches an IPv4 /16.
	Exempt []string

	// CleanupInterval is the prune interval for Pruner stores. Defaults to
	// DefaultCleanupInterval if zero.
	CleanupInterval time.Duration
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Exempt    bool
	Count     int64
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the wait until the window resets, rounded up to whole
// seconds and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRegistry registers the limiter's metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(l *Limiter) { l.reg = reg }
}

// Limiter applies a fixed-window limit per identity. It is safe for
// concurrent use.
//
// When the store is a Pruner the Limiter runs a background goroutine that
// prunes expired windows. Call Close to stop it.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
	exempt []glob.Glob
	logger *slog.Logger
	now    func() time.Time
	reg    prometheus.Registerer

	decisions *prometheus.CounterVec

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, oops.Code("RATELIMIT_INVALID_CONFIG").Errorf("store is required")
	}

	l := &Limiter{
		store:    store,
		max:      cfg.Max,
		window:   cfg.Window,
		logger:   slog.Default(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if l.max <= 0 {
		l.max = DefaultMax
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	for _, opt := range opts {
		opt(l)
	}

	for _, pattern := range cfg.Exempt {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("RATELIMIT_INVALID_PATTERN").With("pattern", pattern).Wrap(err)
		}
		l.exempt = append(l.exempt, g)
	}

	l.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "technicflux_ratelimit_decisions_total",
		Help: "Rate limit decisions by result",
	}, []string{"result"})
	if l.reg != nil {
		if err := l.reg.Register(l.decisions); err != nil {
			return nil, oops.Code("RATELIMIT_METRICS_FAILED").Wrap(err)
		}
	}

	if pruner, ok := store.(Pruner); ok {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = DefaultCleanupInterval
		}
		l.wg.Add(1)
		go l.cleanupLoop(pruner, interval)
	}
	return l, nil
}

// Max returns the per-window limit.
func (l *Limiter) Max() int { return l.max }

// Check counts one request from identity. Over the limit it returns the
// decision together with ErrRateLimited. A store failure fails open: the
// request is allowed and the failure logged.
func (l *Limiter) Check(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	if l.isExempt(identity) {
		l.decisions.WithLabelValues("exempt").Inc()
		return Decision{Allowed: true, Exempt: true, Limit: l.max, Remaining: l.max}, nil
	}

	w, err := l.store.Hit(ctx, identity, l.window, now)
	if err != nil {
		l.decisions.WithLabelValues("error").Inc()
		errutil.LogWarnContext(ctx, l.logger, "rate limit store failed, allowing request",
			oops.With("identity", identity).Wrap(err))
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: now.Add(l.window)}, nil
	}

	d := Decision{
		Allowed:   w.Hits <= int64(l.max),
		Count:     w.Hits,
		Limit:     l.max,
		Remaining: max(0, l.max-int(min(w.Hits, int64(l.max)))),
		ResetAt:   w.ResetAt,
	}
	if !d.Allowed {
		l.decisions.WithLabelValues("rejected").Inc()
		return d, oops.Code("RATELIMIT_EXCEEDED").
			With("identity", identity).
			With("count", w.Hits).
			Wrap(ErrRateLimited)
	}
	l.decisions.WithLabelValues("allowed").Inc()
	return d, nil
}

func (l *Limiter) isExempt(identity string) bool {
	for _, g := range l.exempt {
		if g.Match(identity) {
			return true
		}
	}
	return false
}

// cleanupLoop prunes expired windows in the background.
func (l *Limiter) cleanupLoop(pruner Pruner, interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.prune(pruner)
		}
	}
}

func (l *Limiter) prune(pruner Pruner) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := pruner.Prune(ctx, l.now())
	if err != nil {
		errutil.LogWarnContext(ctx, l.logger, "rate limit prune failed", err)
		return
	}
	if removed > 0 {
		l.logger.DebugContext(ctx, "rate limit windows pruned", "removed", removed)
	}
}

// Close stops the background cleanup goroutine. It blocks until the
// goroutine has stopped and is safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}
