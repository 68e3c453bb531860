// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/auth/authtest"
	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/internal/catalog/catalogtest"
	"github.com/technicflux/technicflux/internal/config"
	"github.com/technicflux/technicflux/internal/ratelimit"
	"github.com/technicflux/technicflux/pkg/errutil"
)

const testDatabaseURL = "postgres://technicflux@localhost:5432/technicflux"

var cheapParams = auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 16, KeyLen: 32}

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

// memoryRuntime is a Runtime over in-memory repositories. Every command run
// against it sees the same state.
type memoryRuntime struct {
	rt     *Runtime
	mu     sync.Mutex
	opens  int
	closes int
	cfg    *config.Config
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryRuntime(t *testing.T) *memoryRuntime {
	t.Helper()
	logger := discardLogger()
	hasher := auth.NewHashPool(auth.NewArgon2idHasherWithParams(cheapParams), 2, nil)
	users := authtest.NewUserRepository()

	dir, err := auth.NewDirectory(users, hasher, logger)
	require.NoError(t, err)
	keys, err := auth.NewKeyRegistry(authtest.NewAPIKeyRepository(), hasher, auth.KeyRegistryConfig{MasterKey: "master"}, logger)
	require.NoError(t, err)
	st := catalogtest.NewStore()
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Mods:       st.Mods(),
		Modpacks:   st.Modpacks(),
		Builds:     st.Builds(),
		Users:      users,
		Sequencer:  catalogtest.NewSequencer(),
		Transactor: st,
		Logger:     logger,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := &memoryRuntime{}
	m.rt = &Runtime{
		Users:     dir,
		Keys:      keys,
		Catalog:   svc,
		RateStore: ratelimit.NewRedisStore(client, ""),
		Ping:      func(context.Context) error { return nil },
		Close: func() {
			m.mu.Lock()
			m.closes++
			m.mu.Unlock()
		},
	}
	return m
}

func (m *memoryRuntime) open(_ context.Context, cfg *config.Config, _ *slog.Logger, _ prometheus.Registerer) (*Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	m.cfg = cfg
	return m.rt, nil
}

// run executes the root command with args and returns its output.
func run(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, err := run(t, nil, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "user", "key", "seed"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_ConfigFile(t *testing.T) {
	path := t.TempDir() + "/technicflux.yaml"
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: "+testDatabaseURL+"\nserver:\n  stream: beta\n"), 0o600))

	rt := newMemoryRuntime(t)
	deps := &Deps{OpenRuntime: rt.open, Environ: environ()}
	_, err := run(t, deps, "--config", path, "user", "list")
	require.NoError(t, err)

	require.NotNil(t, rt.cfg)
	assert.Equal(t, testDatabaseURL, rt.cfg.Database.URL.String())
	assert.Equal(t, "beta", rt.cfg.Server.Stream)
	assert.Equal(t, 1, rt.closes)
}

func TestRootCommand_FlagsOverrideEnvironment(t *testing.T) {
	rt := newMemoryRuntime(t)
	deps := &Deps{OpenRuntime: rt.open, Environ: environ("DATABASE_URL=postgres://env/db", "LOG_FORMAT=json")}

	_, err := run(t, deps, "--database-url", testDatabaseURL, "--log-format", "text", "user", "list")
	require.NoError(t, err)
	assert.Equal(t, testDatabaseURL, rt.cfg.Database.URL.String())
	assert.Equal(t, "text", rt.cfg.Log.Format)
}

func TestRootCommand_MissingDatabaseURL(t *testing.T) {
	rt := newMemoryRuntime(t)
	_, err := run(t, &Deps{OpenRuntime: rt.open, Environ: environ()}, "user", "list")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Zero(t, rt.opens)
}
