// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a mod, modpack or build does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDanglingReference is returned when a stored reference points at a
	// row that no longer exists.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrDuplicateSlug is returned when creating a modpack whose slug is taken.
	ErrDuplicateSlug = errors.New("slug already exists")

	// ErrDuplicateVersion is returned for a second mod row with the same
	// slug and version, or a second build with the same version in one pack.
	ErrDuplicateVersion = errors.New("version already exists")

	// ErrInvalidInput is returned for malformed slugs, versions and fields.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError describes one rejected field. It matches ErrInvalidInput
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
