// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/auth/authtest"
)

func newHasher() *auth.HashPool {
	return auth.NewHashPool(auth.NewArgon2idHasherWithParams(cheapParams), 2, nil)
}

func newDirectory(t *testing.T, users *authtest.UserRepository, opts ...auth.DirectoryOption) (*auth.Directory, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	dir, err := auth.NewDirectory(users, newHasher(), logger, opts...)
	require.NoError(t, err)
	return dir, &buf
}

func TestNewDirectory_RequiresDependencies(t *testing.T) {
	_, err := auth.NewDirectory(nil, newHasher(), nil)
	assert.Error(t, err)

	_, err = auth.NewDirectory(authtest.NewUserRepository(), nil, nil)
	assert.Error(t, err)
}

func TestDirectory_CreateUser(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir, _ := newDirectory(t, authtest.NewUserRepository(), auth.WithClock(func() time.Time { return created }))

	t.Run("stores hashed password", func(t *testing.T) {
		user, err := dir.CreateUser(ctx, "alice", "Alice", "hunter22")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "Alice", user.DisplayName)
		assert.Equal(t, created, user.CreatedOn)
		assert.NotEqual(t, "hunter22", user.PasswordHash)
		assert.Empty(t, user.LoginHistory)
	})

	t.Run("display name defaults to username", func(t *testing.T) {
		user, err := dir.CreateUser(ctx, "bob", "", "pw")
		require.NoError(t, err)
		assert.Equal(t, "bob", user.DisplayName)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := dir.CreateUser(ctx, "alice", "Other", "pw")
		assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
	})

	t.Run("usernames are case-sensitive", func(t *testing.T) {
		_, err := dir.CreateUser(ctx, "Alice", "", "pw")
		assert.NoError(t, err)
	})

	for name, username := range map[string]string{
		"too short":   "ab",
		"too long":    "a123456789012345678901234567890123456789012345678901",
		"bad symbols": "al ice!",
	} {
		t.Run("invalid username "+name, func(t *testing.T) {
			_, err := dir.CreateUser(ctx, username, "", "pw")
			assert.ErrorIs(t, err, auth.ErrInvalidInput)
		})
	}

	t.Run("empty password", func(t *testing.T) {
		_, err := dir.CreateUser(ctx, "carol", "", "")
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
	})
}

func TestDirectory_Authenticate(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	dir, _ := newDirectory(t, users)

	_, err := dir.CreateUser(ctx, "steve", "Steve", "diamond")
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		user, err := dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{})
		require.NoError(t, err)
		assert.Equal(t, "steve", user.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := dir.Authenticate(ctx, "steve", "Diamond", auth.LoginOptions{})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown user is indistinguishable from wrong password", func(t *testing.T) {
		_, err := dir.Authenticate(ctx, "herobrine", "diamond", auth.LoginOptions{})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.False(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("without history option nothing is recorded", func(t *testing.T) {
		before := users.AppendCalls
		_, err := dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{})
		require.NoError(t, err)
		assert.Equal(t, before, users.AppendCalls)
	})
}

func TestDirectory_Authenticate_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	loginAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	dir, _ := newDirectory(t, users, auth.WithClock(func() time.Time { return loginAt }))

	_, err := dir.CreateUser(ctx, "steve", "", "diamond")
	require.NoError(t, err)

	user, err := dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{RecordHistory: true, UserAgent: "Launcher/4.0"})
	require.NoError(t, err)
	require.Len(t, user.LoginHistory, 1)
	assert.Equal(t, auth.LoginEvent{Timestamp: loginAt, UserAgent: "Launcher/4.0"}, user.LoginHistory[0])

	user, err = dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{RecordHistory: true})
	require.NoError(t, err)
	require.Len(t, user.LoginHistory, 2)
	last, ok := user.LastLogin()
	require.True(t, ok)
	assert.Equal(t, auth.DefaultUserAgent, last.UserAgent)

	stored, err := dir.GetByUsername(ctx, "steve")
	require.NoError(t, err)
	assert.Len(t, stored.LoginHistory, 2)
}

func TestDirectory_Authenticate_HistoryFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	dir, logs := newDirectory(t, users)

	_, err := dir.CreateUser(ctx, "steve", "", "diamond")
	require.NoError(t, err)

	users.AppendLoginErr = errors.New("disk full")
	user, err := dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{RecordHistory: true})
	require.NoError(t, err)
	assert.Len(t, user.LoginHistory, 1)
	assert.Equal(t, 1, users.AppendCalls)
	assert.Contains(t, logs.String(), "login history append failed")
}

func TestDirectory_Authenticate_CancelledContext(t *testing.T) {
	users := authtest.NewUserRepository()
	dir, _ := newDirectory(t, users)
	_, err := dir.CreateUser(context.Background(), "steve", "", "diamond")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dir.Authenticate(ctx, "steve", "diamond", auth.LoginOptions{RecordHistory: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, users.AppendCalls)
}

func TestDirectory_Authenticate_RepositoryFailure(t *testing.T) {
	users := authtest.NewUserRepository()
	users.GetErr = errors.New("connection reset")
	dir, _ := newDirectory(t, users)

	_, err := dir.Authenticate(context.Background(), "steve", "diamond", auth.LoginOptions{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, auth.ErrInvalidCredentials))
}

func TestDirectory_Authenticate_MalformedHashFailsClosed(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	require.NoError(t, users.Create(ctx, &auth.User{
		ID:           ulid.Make(),
		Username:     "broken",
		DisplayName:  "broken",
		PasswordHash: "$argon2id$garbage",
	}))
	dir, logs := newDirectory(t, users)

	_, err := dir.Authenticate(ctx, "broken", "anything", auth.LoginOptions{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Contains(t, logs.String(), "stored password hash unreadable")
}

func TestDirectory_Authenticate_UpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	legacy, err := bcrypt.GenerateFromPassword([]byte("oldsecret"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, &auth.User{
		ID:           ulid.Make(),
		Username:     "veteran",
		DisplayName:  "veteran",
		PasswordHash: string(legacy),
	}))
	dir, _ := newDirectory(t, users)

	_, err = dir.Authenticate(ctx, "veteran", "oldsecret", auth.LoginOptions{})
	require.NoError(t, err)

	stored, err := users.GetByUsername(ctx, "veteran")
	require.NoError(t, err)
	assert.NotEqual(t, string(legacy), stored.PasswordHash)
	assert.Contains(t, stored.PasswordHash, "$argon2id$")

	_, err = dir.Authenticate(ctx, "veteran", "oldsecret", auth.LoginOptions{})
	assert.NoError(t, err, "upgraded hash must still verify")
}

func TestDirectory_UpdateUser(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUserRepository()
	dir, _ := newDirectory(t, users)
	original, err := dir.CreateUser(ctx, "alex", "Alex", "first")
	require.NoError(t, err)

	t.Run("empty password keeps hash", func(t *testing.T) {
		name := "Alexandra"
		updated, err := dir.UpdateUser(ctx, "alex", auth.UserUpdate{DisplayName: &name})
		require.NoError(t, err)
		assert.Equal(t, "Alexandra", updated.DisplayName)
		assert.Equal(t, original.PasswordHash, updated.PasswordHash)

		_, err = dir.Authenticate(ctx, "alex", "first", auth.LoginOptions{})
		assert.NoError(t, err)
	})

	t.Run("new password replaces hash", func(t *testing.T) {
		_, err := dir.UpdateUser(ctx, "alex", auth.UserUpdate{Password: "second"})
		require.NoError(t, err)

		_, err = dir.Authenticate(ctx, "alex", "first", auth.LoginOptions{})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		_, err = dir.Authenticate(ctx, "alex", "second", auth.LoginOptions{})
		assert.NoError(t, err)
	})

	t.Run("empty display name rejected", func(t *testing.T) {
		empty := ""
		_, err := dir.UpdateUser(ctx, "alex", auth.UserUpdate{DisplayName: &empty})
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := dir.UpdateUser(ctx, "nobody", auth.UserUpdate{Password: "x"})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestDirectory_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t, authtest.NewUserRepository())

	a, err := dir.CreateUser(ctx, "first", "", "pw")
	require.NoError(t, err)
	b, err := dir.CreateUser(ctx, "second", "", "pw")
	require.NoError(t, err)

	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	require.NoError(t, dir.Delete(ctx, a.ID))
	_, err = dir.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	got, err := dir.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Username)

	assert.ErrorIs(t, dir.Delete(ctx, a.ID), auth.ErrNotFound)
}

func TestDirectory_EnsureUser(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t, authtest.NewUserRepository())

	user, created, err := dir.EnsureUser(ctx, "admin", "Admin", "pw")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := dir.EnsureUser(ctx, "admin", "Other", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Admin", again.DisplayName)
}
