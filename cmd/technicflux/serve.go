// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/technicflux/technicflux/internal/api"
	"github.com/technicflux/technicflux/internal/config"
	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/pkg/errutil"
)

// HTTP server limits.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	autoMigrate bool
}

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *Deps) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API together with the metrics and health server.
The process stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfg, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.autoMigrate, "auto-migrate", false, "apply pending migrations before starting")
	cmd.Flags().String("redis-url", "", "Redis URL for shared rate-limit windows (env REDIS_URL)")
	cmd.Flags().String("listen", config.DefaultListen, "API listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("host", config.DefaultHost, "public host name used in the mirror URL")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveConfig, deps *Deps) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting api server",
		"listen", cfg.Server.Listen,
		"metrics_addr", cfg.Server.MetricsAddr,
		"host", cfg.Server.Host,
		"stream", cfg.Server.Stream,
	)

	if opts.autoMigrate {
		if err := migrateUp(ctx, deps, cfg, logger); err != nil {
			return err
		}
	}

	// Readiness fails until the API is about to accept connections.
	var ready atomic.Pointer[Runtime]
	obs := deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		rt := ready.Load()
		if rt == nil {
			return errors.New("starting")
		}
		return rt.Ping(ctx)
	}, logger)

	opened, err := deps.OpenRuntime(ctx, cfg, logger, obs.Registry())
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "open runtime").Wrap(err)
	}
	defer opened.Close()

	if err := ensureAdmin(ctx, opened, cfg, logger); err != nil {
		return err
	}

	limiter, err := ratelimit.NewLimiter(opened.RateStore, ratelimit.Config{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window(),
		Exempt: cfg.RateLimit.Exempt,
	}, ratelimit.WithLogger(logger), ratelimit.WithRegistry(obs.Registry()))
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "create rate limiter").Wrap(err)
	}
	defer limiter.Close()

	engine, err := api.NewRouter(api.Config{
		Catalog:        opened.Catalog,
		Users:          opened.Users,
		Keys:           opened.Keys,
		Limiter:        limiter,
		Metrics:        obs.Metrics(),
		Logger:         logger,
		Info:           api.Info{Name: "TechnicFlux", Version: version, Stream: cfg.Server.Stream},
		MirrorURL:      cfg.Server.MirrorURL(),
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "build router").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Server.MetricsAddr != "" {
		obsErrs, err := obs.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrs, "observability", logger)
		logger.InfoContext(ctx, "observability server started", "addr", obs.Addr())
	}
	ready.Store(opened)

	ln, err := deps.ListenerFactory("tcp", cfg.Server.Listen)
	if err != nil {
		stopObservability(obs, cfg, logger)
		return oops.Code("SERVE_FAILED").With("operation", "listen").With("addr", cfg.Server.Listen).Wrap(err)
	}

	srv := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serveErrs := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
		}
		close(serveErrs)
	}()

	cmd.Printf("TechnicFlux listening on %s\n", ln.Addr())
	logger.InfoContext(ctx, "api server ready", "addr", ln.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErrs:
		if ok {
			serveErr = oops.Code("SERVE_FAILED").With("operation", "serve").Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errutil.LogWarnContext(shutdownCtx, logger, "error stopping api server", err)
	}
	stopObservability(obs, cfg, logger)

	logger.Info("shutdown complete")
	return serveErr
}

// ensureAdmin creates the configured administrator account if it is missing.
func ensureAdmin(ctx context.Context, rt *Runtime, cfg *config.Config, logger *slog.Logger) error {
	name := cfg.Auth.AdminUsername
	if name == "" {
		return nil
	}
	_, created, err := rt.Users.EnsureUser(ctx, name, name+" (Admin)", cfg.Auth.AdminPassword.String())
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "ensure admin user").With("username", name).Wrap(err)
	}
	if created {
		logger.InfoContext(ctx, "admin user created", "username", name)
	}
	return nil
}

func stopObservability(obs ObservabilityServer, cfg *config.Config, logger *slog.Logger) {
	if cfg.Server.MetricsAddr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obs.Stop(ctx); err != nil {
		errutil.LogWarnContext(ctx, logger, "error stopping observability server", err)
	}
}

// monitorServerErrors cancels the context when a server fails, so one failed
// listener shuts the whole process down.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
