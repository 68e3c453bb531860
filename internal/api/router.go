// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package api serves the Solder-compatible catalog API over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/internal/observability"
	"github.com/technicflux/technicflux/internal/ratelimit"
)

// TracerName is the instrumentation name of the request spans.
const TracerName = "github.com/technicflux/technicflux/internal/api"

// Catalog is the catalog surface the API serves.
type Catalog interface {
	ResolveMod(ctx context.Context, slug string) (*catalog.ModSummary, error)
	ResolveModVersion(ctx context.Context, slug, version string) (*catalog.Mod, error)
	ListModpacks(ctx context.Context) (map[string]string, error)
	ResolveModpack(ctx context.Context, slug string) (*catalog.Modpack, error)
	ResolveBuild(ctx context.Context, slug, version string) (*catalog.Build, error)
	CreateModpack(ctx context.Context, slug, displayName string, ownerID ulid.ULID) (*catalog.Modpack, error)
	AddBuild(ctx context.Context, slug string, spec catalog.BuildSpec) (*catalog.Build, error)
	AddModToBuild(ctx context.Context, packSlug, buildVersion, modSlug, modVersion string) (*catalog.Build, error)
	CreateMod(ctx context.Context, spec catalog.ModSpec) (*catalog.Mod, error)
}

// Authenticator checks login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, opts auth.LoginOptions) (*auth.User, error)
}

// KeyVerifier checks API keys.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (*auth.APIKey, error)
}

// Limiter counts requests per client.
type Limiter interface {
	Check(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// Info identifies the running server on GET /api/.
type Info struct {
	Name    string
	Version string
	Stream  string
}

// Config holds the router's dependencies.
type Config struct {
	Catalog Catalog
	Users   Authenticator
	Keys    KeyVerifier

	// Limiter is optional. Without one requests are not limited.
	Limiter Limiter
	// Metrics is optional.
	Metrics *observability.Metrics
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	Logger *slog.Logger

	Info      Info
	MirrorURL string

	// TrustedProxies lists proxies whose forwarding headers set the client
	// address. Empty trusts none.
	TrustedProxies []string

	// Now overrides the clock used for Retry-After.
	Now func() time.Time
}

type router struct {
	catalog Catalog
	users   Authenticator
	keys    KeyVerifier
	limiter Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
	info    Info
	mirror  string
	now     func() time.Time
}

// NewRouter builds the API handler.
func NewRouter(cfg Config) (*gin.Engine, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("catalog is required")
	case cfg.Users == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("authenticator is required")
	case cfg.Keys == nil:
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("key verifier is required")
	}

	r := &router{
		catalog: cfg.Catalog,
		users:   cfg.Users,
		keys:    cfg.Keys,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		info:    cfg.Info,
		mirror:  cfg.MirrorURL,
		now:     cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, oops.Code("API_INVALID_CONFIG").With("trusted_proxies", cfg.TrustedProxies).Wrap(err)
	}

	engine.Use(requestID(), tracing(tracer), r.accessLog(), r.recovery())
	// Engine-level so unmatched /api paths answered by NoRoute and NoMethod
	// are counted too.
	if r.limiter != nil {
		engine.Use(r.rateLimit())
	}
	engine.NoRoute(r.noRoute)
	engine.NoMethod(r.invalidRoute)

	api := engine.Group("/api")

	api.GET("/", r.getInfo)
	api.GET("/mod/:slug", r.getMod)
	api.GET("/mod/:slug/:version", r.getModVersion)
	api.GET("/modpack", r.listModpacks)
	api.GET("/modpack/:slug", r.getModpack)
	api.GET("/modpack/:slug/:build", r.getBuild)
	api.GET("/verify", r.verifyMissing)
	api.GET("/verify/:key", r.verifyKey)
	api.POST("/login", r.login)

	protected := api.Group("", r.requireAPIKey())
	protected.POST("/modpack", r.createModpack)
	protected.POST("/modpack/:slug/build", r.addBuild)
	protected.POST("/modpack/:slug/:build/mods", r.addModToBuild)
	protected.POST("/mod", r.createMod)

	return engine, nil
}

// noRoute answers unknown API paths as invalid routes and everything else
// as not found.
func (r *router) noRoute(c *gin.Context) {
	if isAPIPath(c.Request.URL.Path) {
		r.invalidRoute(c)
		return
	}
	abort(c, http.StatusNotFound, MsgNotFound)
}

func (r *router) invalidRoute(c *gin.Context) {
	abort(c, http.StatusMethodNotAllowed, MsgInvalidRoute)
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
