// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/pkg/errutil"
)

// dummyPasswordHash is verified against when the username does not exist, so
// the response time does not reveal whether an account exists.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// historyWriteTimeout bounds the best-effort login history append.
const historyWriteTimeout = 5 * time.Second

// LoginOptions controls the side effects of Authenticate.
type LoginOptions struct {
	RecordHistory bool
	UserAgent     string
}

// Directory owns user accounts.
type Directory struct {
	users  UserRepository
	hasher SecretHasher
	logger *slog.Logger
	now    func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithClock overrides the time source used for creation and login stamps.
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates a Directory.
func NewDirectory(users UserRepository, hasher SecretHasher, logger *slog.Logger, opts ...DirectoryOption) (*Directory, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{users: users, hasher: hasher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// CreateUser registers a new account.
func (d *Directory) CreateUser(ctx context.Context, username, displayName, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if displayName == "" {
		displayName = username
	}

	_, err := d.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, oops.Code("AUTH_DUPLICATE_USERNAME").With("username", username).Wrap(ErrDuplicateUsername)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.With("operation", "check username").Wrap(err)
	}

	hash, err := d.hasher.Hash(ctx, password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	user := &User{
		ID:           ulid.Make(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedOn:    d.now().UTC().Truncate(time.Microsecond),
	}
	if err := d.users.Create(ctx, user); err != nil {
		return nil, oops.With("operation", "create user").With("username", username).Wrap(err)
	}
	d.logger.InfoContext(ctx, "user created", "user_id", user.ID.String(), "username", username)
	return user, nil
}

// Authenticate checks a username and password. Unknown usernames and wrong
// passwords both yield ErrInvalidCredentials, and both pay for one hash
// verification.
//
// With opts.RecordHistory a login event is appended. Persisting it is best
// effort: a failure is logged, and the returned user carries the event
// either way.
func (d *Directory) Authenticate(ctx context.Context, username, password string, opts LoginOptions) (*User, error) {
	user, lookupErr := d.users.GetByUsername(ctx, username)

	target := dummyPasswordHash
	switch {
	case lookupErr == nil:
		target = user.PasswordHash
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.With("operation", "get user by username").Wrap(lookupErr)
	}

	valid, verifyErr := d.hasher.Verify(ctx, password, target)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, oops.Code("AUTH_CANCELLED").Wrap(ctxErr)
	}
	if verifyErr != nil && user != nil {
		errutil.LogWarnContext(ctx, d.logger, "stored password hash unreadable", verifyErr)
	}
	if lookupErr != nil || verifyErr != nil || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if d.hasher.NeedsUpgrade(user.PasswordHash) {
		d.upgradeHash(ctx, user, password)
	}

	if opts.RecordHistory {
		agent := opts.UserAgent
		if agent == "" {
			agent = DefaultUserAgent
		}
		event := LoginEvent{Timestamp: d.now().UTC().Truncate(time.Microsecond), UserAgent: agent}
		d.appendLogin(ctx, user, event)
		user.LoginHistory = append(user.LoginHistory, event)
	}

	return user, nil
}

func (d *Directory) appendLogin(ctx context.Context, user *User, event LoginEvent) {
	// Detached so a client disconnect does not drop the history entry.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := d.users.AppendLogin(writeCtx, user.ID, event); err != nil {
		errutil.LogWarnContext(ctx, d.logger, "login history append failed", err)
	}
}

func (d *Directory) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := d.hasher.Hash(ctx, password)
	if err != nil {
		errutil.LogWarnContext(ctx, d.logger, "password rehash failed", err)
		return
	}
	previous := user.PasswordHash
	user.PasswordHash = newHash
	if err := d.users.Update(ctx, user); err != nil {
		user.PasswordHash = previous
		errutil.LogWarnContext(ctx, d.logger, "password rehash not persisted", err)
	}
}

// UpdateUser applies a profile patch. An empty update.Password keeps the
// stored hash.
func (d *Directory) UpdateUser(ctx context.Context, username string, update UserUpdate) (*User, error) {
	user, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, oops.With("operation", "get user for update").Wrap(err)
	}

	if update.DisplayName != nil {
		if *update.DisplayName == "" {
			return nil, oops.Code("AUTH_INVALID_DISPLAY_NAME").
				Wrap(fmt.Errorf("display name cannot be empty: %w", ErrInvalidInput))
		}
		user.DisplayName = *update.DisplayName
	}
	if update.Password != "" {
		hash, err := d.hasher.Hash(ctx, update.Password)
		if err != nil {
			return nil, oops.With("operation", "hash password").Wrap(err)
		}
		user.PasswordHash = hash
	}

	if err := d.users.Update(ctx, user); err != nil {
		return nil, oops.With("operation", "update user").With("username", username).Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user.
func (d *Directory) GetByID(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, oops.With("operation", "get user by id").Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user.
func (d *Directory) GetByUsername(ctx context.Context, username string) (*User, error) {
	user, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, oops.With("operation", "get user by username").Wrap(err)
	}
	return user, nil
}

// List returns every user.
func (d *Directory) List(ctx context.Context) ([]*User, error) {
	users, err := d.users.List(ctx)
	if err != nil {
		return nil, oops.With("operation", "list users").Wrap(err)
	}
	return users, nil
}

// Delete removes a user. Keys and modpack memberships that referenced the
// user are left in place.
func (d *Directory) Delete(ctx context.Context, id ulid.ULID) error {
	if err := d.users.Delete(ctx, id); err != nil {
		return oops.With("operation", "delete user").Wrap(err)
	}
	d.logger.InfoContext(ctx, "user deleted", "user_id", id.String())
	return nil
}

// EnsureUser creates the account unless a user with that username already
// exists. It reports whether a user was created.
func (d *Directory) EnsureUser(ctx context.Context, username, displayName, password string) (*User, bool, error) {
	user, err := d.users.GetByUsername(ctx, username)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, oops.With("operation", "ensure user").Wrap(err)
	}

	user, err = d.CreateUser(ctx, username, displayName, password)
	if errors.Is(err, ErrDuplicateUsername) {
		// Lost a race with another process bootstrapping the same account.
		user, err = d.users.GetByUsername(ctx, username)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
