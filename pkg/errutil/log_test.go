// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technicflux/technicflux/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("CATALOG_RESOLVE_FAILED").
		With("slug", "ftbu").
		Errorf("lookup failed")

	errutil.LogError(logger, "resolve modpack", err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "resolve modpack", entry["msg"])
	assert.Equal(t, "CATALOG_RESOLVE_FAILED", entry["code"])
	ctx, ok := entry["context"].(map[string]any)
	require.True(t, ok, "context attribute missing: %s", buf.String())
	assert.Equal(t, "ftbu", ctx["slug"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogWarnContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarnContext(context.Background(), logger, "login history skipped",
		oops.Code("USER_LOGIN_APPEND_FAILED").Errorf("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "USER_LOGIN_APPEND_FAILED", entry["code"])
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", errutil.Code(nil))
	assert.Equal(t, "", errutil.Code(errors.New("plain")))
	assert.Equal(t, "X_FAILED", errutil.Code(oops.Code("X_FAILED").Errorf("x")))
}
