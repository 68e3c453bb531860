// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvMapping maps environment variables to config keys. Variables not listed
// here are ignored.
var EnvMapping = map[string]string{
	"DATABASE_URL":           "database.url",
	"REDIS_URL":              "redis.url",
	"API_KEY":                "auth.master_key",
	"KEY_FINGERPRINT_SECRET": "auth.key_fingerprint_secret",
	"HASH_WORKERS":           "auth.hash_workers",
	"ADMIN_USER":             "auth.admin_username",
	"ADMIN_PASS":             "auth.admin_password",
	"RATE_LIMIT_MAX":         "rate_limit.max",
	"RATE_LIMIT_WINDOW_MS":   "rate_limit.window_ms",
	"RATE_LIMIT_EXEMPT":      "rate_limit.exempt",
	"HOST":                   "server.host",
	"LISTEN_ADDR":            "server.listen",
	"METRICS_ADDR":           "server.metrics_addr",
	"STREAM":                 "server.stream",
	"TRUSTED_PROXIES":        "server.trusted_proxies",
	"LOG_FORMAT":             "log.format",
	"LOG_LEVEL":              "log.level",
}

// FlagMapping maps command-line flag names to config keys. Flags not listed
// here are not configuration.
var FlagMapping = map[string]string{
	"database-url": "database.url",
	"redis-url":    "redis.url",
	"listen":       "server.listen",
	"metrics-addr": "server.metrics_addr",
	"host":         "server.host",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// Loader loads and validates configuration.
type Loader struct {
	path     string
	flags    *pflag.FlagSet
	environ  func() []string
	validate *validator.Validate
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile loads path as a YAML layer. An empty path is skipped.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.path = path }
}

// WithFlags loads the changed flags of fs named in FlagMapping.
func WithFlags(fs *pflag.FlagSet) LoaderOption {
	return func(l *Loader) { l.flags = fs }
}

// WithEnviron overrides the environment source. Used by tests.
func WithEnviron(environ func() []string) LoaderOption {
	return func(l *Loader) { l.environ = environ }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("koanf")
	})
	l := &Loader{validate: v}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load is shorthand for NewLoader(opts...).Load().
func Load(opts ...LoaderOption) (*Config, error) {
	return NewLoader(opts...).Load()
}

// Load builds the configuration from every layer and validates it.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if l.path != "" {
		if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", l.path).Wrap(err)
		}
	}

	envOpt := env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			path, ok := EnvMapping[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	}
	if l.environ != nil {
		envOpt.EnvironFunc = l.environ
	}
	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if l.flags != nil {
		provider := posflag.ProviderWithFlag(l.flags, ".", k, func(f *pflag.Flag) (string, any) {
			path, ok := FlagMapping[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return path, posflag.FlagVal(l.flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				secretDecodeHook,
			),
		},
	}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			names := make([]string, 0, len(fields))
			for _, fe := range fields {
				names = append(names, fieldKey(fe.Namespace()))
			}
			return oops.Code("CONFIG_INVALID").With("fields", names).Wrap(err)
		}
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// secretDecodeHook converts strings to Secret.
func secretDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Secret("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return Secret(v), nil
	case []byte:
		return Secret(v), nil
	default:
		return data, nil
	}
}

// fieldKey turns a validator namespace such as "Config.rate_limit.max"
// into the config key.
func fieldKey(namespace string) string {
	_, key, _ := strings.Cut(namespace, ".")
	return key
}
