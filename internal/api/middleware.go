// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/logging"
	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/pkg/errutil"
)

// Header names.
const (
	HeaderRequestID          = "X-Request-ID"
	HeaderAPIKey             = "X-API-Key"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// maxRequestIDLength caps client-supplied request ids.
const maxRequestIDLength = 128

// unmatchedRoute labels requests that hit no route.
const unmatchedRoute = "unmatched"

// apiKeyContextKey stores the verified key on the gin context.
const apiKeyContextKey = "technicflux.api_key"

// route returns the matched route pattern.
func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// requestID tags the request with an id, reusing a sane client-supplied one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength || strings.ContainsFunc(id, isControl) {
			id = ulid.Make().String()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func isControl(r rune) bool { return r < 0x20 || r == 0x7f }

// tracing starts one server span per request, named after the route.
func tracing(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := route(c)
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+r,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", r),
				attribute.String("url.path", c.Request.URL.Path),
				attribute.String("client.address", c.ClientIP()),
			))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// accessLog logs every completed request and records its metrics.
func (r *router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		rt := route(c)

		if r.metrics != nil {
			r.metrics.RequestsTotal.WithLabelValues(rt, c.Request.Method, strconv.Itoa(status)).Inc()
			r.metrics.RequestDuration.WithLabelValues(rt).Observe(latency.Seconds())
		}

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", rt,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			attrs = append(attrs, "error", errs.String())
		}
		r.logger.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

// recovery answers a panicking handler with a generic 500.
func (r *router) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		errutil.LogErrorContext(c.Request.Context(), r.logger, "handler panicked", oops.Code("API_PANIC").With("route", route(c)).Errorf("panic: %v", recovered))
		abort(c, http.StatusInternalServerError, MsgInternalServerError)
	})
}

// rateLimit counts every /api request against the client's window,
// including requests that match no route.
func (r *router) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAPIPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		d, err := r.limiter.Check(c.Request.Context(), c.ClientIP())
		if !d.Exempt {
			c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			if !d.ResetAt.IsZero() {
				c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
		}
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			c.Header(HeaderRetryAfter, strconv.Itoa(int(d.RetryAfter(r.now()).Seconds())))
			abort(c, http.StatusTooManyRequests, MsgTooManyRequests)
			return
		case err != nil:
			errutil.LogWarnContext(c.Request.Context(), r.logger, "rate limit check failed, allowing request", err)
		}
		c.Next()
	}
}

// presentedKey returns the API key from X-API-Key or a Bearer token.
func presentedKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireAPIKey rejects requests without a valid API key.
func (r *router) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := r.keys.Verify(c.Request.Context(), presentedKey(c))
		if err != nil {
			r.respondError(c, err, MsgKeyInvalid)
			return
		}
		r.logger.DebugContext(c.Request.Context(), "request authenticated",
			"key_name", key.Name, "master", key.Master)
		c.Set(apiKeyContextKey, key)
		c.Next()
	}
}

// keyFrom returns the key verified by requireAPIKey.
func keyFrom(c *gin.Context) *auth.APIKey {
	v, ok := c.Get(apiKeyContextKey)
	if !ok {
		return nil
	}
	key, _ := v.(*auth.APIKey)
	return key
}
