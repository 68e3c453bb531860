// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package config loads the server configuration from defaults, an optional
// YAML file, the environment, and command-line flags, in that order of
// precedence.
package config

import (
	"log/slog"
	"runtime"
	"time"
)

// Secret is a string that never appears in logs.
type Secret string

// String returns the secret's value.
func (s Secret) String() string { return string(s) }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("[redacted]")
}

// Config is the complete server configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL            Secret        `koanf:"url"             validate:"required"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=0"`
}

// RedisConfig configures the optional shared rate-limit store. When URL is
// empty windows are kept in PostgreSQL.
type RedisConfig struct {
	URL    Secret `koanf:"url"`
	Prefix string `koanf:"prefix"`
}

// AuthConfig configures credential handling.
type AuthConfig struct {
	// MasterKey is accepted as a valid API key in addition to stored keys.
	MasterKey Secret `koanf:"master_key"`

	// KeyFingerprintSecret enables HMAC fingerprints that narrow key
	// verification to one candidate.
	KeyFingerprintSecret Secret `koanf:"key_fingerprint_secret"`

	// HashWorkers bounds concurrent password hashing.
	HashWorkers int `koanf:"hash_workers" validate:"min=1"`

	// AdminUsername and AdminPassword name an administrator account that is
	// created at startup when missing.
	AdminUsername string `koanf:"admin_username" validate:"required_with=AdminPassword"`
	AdminPassword Secret `koanf:"admin_password" validate:"required_with=AdminUsername"`
}

// RateLimitConfig configures the API rate limiter.
type RateLimitConfig struct {
	Max      int      `koanf:"max"       validate:"min=1"`
	WindowMS int64    `koanf:"window_ms" validate:"min=1"`
	Exempt   []string `koanf:"exempt"    validate:"dive,required"`
}

// Window returns the window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// ServerConfig configures the listeners and the public identity.
type ServerConfig struct {
	// Host is the public host name used to build the mod mirror URL.
	Host        string `koanf:"host"         validate:"required"`
	Listen      string `koanf:"listen"       validate:"required,hostname_port"`
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`
	Stream      string `koanf:"stream"       validate:"required"`
	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers
	// name the client. Rate limiting keys on the resulting address.
	TrustedProxies []string `koanf:"trusted_proxies" validate:"dive,ip|cidr"`
}

// MirrorURL returns the base URL mod downloads are served from.
func (c ServerConfig) MirrorURL() string {
	return "http://" + c.Host + "/mods"
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level"  validate:"oneof=debug info warn error"`
}

// Default values.
const (
	DefaultRateLimitMax      = 100
	DefaultRateLimitWindowMS = 60000
	DefaultHost              = "localhost"
	DefaultListen            = ":8080"
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultStream            = "stable"
	DefaultLogFormat         = "json"
	DefaultLogLevel          = "info"
	DefaultConnectTimeout    = 30 * time.Second
)

// Default returns the configuration used when no other source sets a key.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			ConnectTimeout: DefaultConnectTimeout,
		},
		Auth: AuthConfig{
			HashWorkers: runtime.GOMAXPROCS(0),
		},
		RateLimit: RateLimitConfig{
			Max:      DefaultRateLimitMax,
			WindowMS: DefaultRateLimitWindowMS,
			Exempt:   []string{},
		},
		Server: ServerConfig{
			Host:           DefaultHost,
			Listen:         DefaultListen,
			MetricsAddr:    DefaultMetricsAddr,
			Stream:         DefaultStream,
			TrustedProxies: []string{},
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
	}
}
