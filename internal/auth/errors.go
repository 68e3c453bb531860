// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import "errors"

// Sentinel errors. Callers branch on them with errors.Is; the returned errors
// are oops errors wrapping one of these.
var (
	// ErrNotFound is returned when a requested user or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials is returned for an unknown username or a wrong
	// password. The two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrDuplicateUsername is returned when creating a user whose username is taken.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidKey is returned when a presented API key matches no stored key.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrKeyMissing is returned when no API key was presented at all.
	ErrKeyMissing = errors.New("no api key provided")

	// ErrInvalidInput is returned for malformed usernames, empty secrets and
	// similar caller mistakes.
	ErrInvalidInput = errors.New("invalid input")
)
