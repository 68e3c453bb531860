// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool)
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, entry := range entries {
		names[entry.Name()] = true
		assert.True(t, pattern.MatchString(entry.Name()),
			"file %s should match NNNNNN_name.(up|down).sql", entry.Name())
	}

	for name := range names {
		if up, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[up+".down.sql"], "%s has no down migration", name)
		}
	}
	assert.True(t, names["000001_initial.up.sql"])
}

func TestInitialMigration_CreatesEveryTable(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/000001_initial.up.sql")
	require.NoError(t, err)
	sql := string(data)

	for _, table := range []string{
		"users", "user_logins", "api_keys", "counters", "mods", "modpacks",
		"modpack_members", "builds", "modpack_builds", "build_mods", "rate_limit_windows",
	} {
		assert.Contains(t, sql, "CREATE TABLE "+table+" (", "missing table %s", table)
	}
}
