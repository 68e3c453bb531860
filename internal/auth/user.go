// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

// DefaultUserAgent is recorded when a login carries no User-Agent.
const DefaultUserAgent = "Unknown"

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// LoginEvent is one entry of a user's login history.
type LoginEvent struct {
	Timestamp time.Time
	UserAgent string
}

// User is an account able to log in and own API keys and modpacks.
// Usernames are case-sensitive.
type User struct {
	ID           ulid.ULID
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedOn    time.Time
	// LoginHistory is append-only, oldest first.
	LoginHistory []LoginEvent
}

// LastLogin returns the most recent login event, if any.
func (u *User) LastLogin() (LoginEvent, bool) {
	if len(u.LoginHistory) == 0 {
		return LoginEvent{}, false
	}
	return u.LoginHistory[len(u.LoginHistory)-1], true
}

// UserUpdate is a profile patch. A nil DisplayName leaves the name alone; an
// empty Password keeps the current password hash.
type UserUpdate struct {
	DisplayName *string
	Password    string
}

// ValidateUsername checks length and the allowed character set: letters,
// digits, underscore, dot and dash.
func ValidateUsername(username string) error {
	switch {
	case len(username) < MinUsernameLength:
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Wrap(fmt.Errorf("username must be at least %d characters: %w", MinUsernameLength, ErrInvalidInput))
	case len(username) > MaxUsernameLength:
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Wrap(fmt.Errorf("username must be at most %d characters: %w", MaxUsernameLength, ErrInvalidInput))
	case !usernameRegex.MatchString(username):
		return oops.Code("AUTH_INVALID_USERNAME").
			Wrap(fmt.Errorf("username may contain only letters, digits, '_', '.' and '-': %w", ErrInvalidInput))
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateUsername when the
	// username is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user with its login history.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by exact username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// List returns every user ordered by creation time. Login history is
	// not loaded.
	List(ctx context.Context) ([]*User, error)

	// Update writes display name and password hash.
	Update(ctx context.Context, user *User) error

	// AppendLogin appends one event to the user's login history.
	AppendLogin(ctx context.Context, id ulid.ULID, event LoginEvent) error

	// Delete removes a user and its login history.
	Delete(ctx context.Context, id ulid.ULID) error
}
