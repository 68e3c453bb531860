// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/gosimple/slug"
)

// Validation limits.
const (
	MaxSlugLength        = 100
	MaxDisplayNameLength = 200
	MaxVersionLength     = 64
)

// ValidateSlug checks a mod or modpack slug: lower-case ASCII letters,
// digits, '-' and '_', not starting or ending with a separator.
func ValidateSlug(s string) error {
	switch {
	case s == "":
		return &ValidationError{Field: "slug", Message: "cannot be empty"}
	case len(s) > MaxSlugLength:
		return &ValidationError{Field: "slug", Message: fmt.Sprintf("exceeds maximum length of %d", MaxSlugLength)}
	case !slug.IsSlug(s):
		return &ValidationError{Field: "slug", Message: fmt.Sprintf("%q is not a valid slug (try %q)", s, slug.Make(s))}
	}
	return nil
}

// ValidateDisplayName checks a human-readable name.
func ValidateDisplayName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Field: "display_name", Message: "cannot be empty"}
	case !utf8.ValidString(name):
		return &ValidationError{Field: "display_name", Message: "must be valid UTF-8"}
	case len(name) > MaxDisplayNameLength:
		return &ValidationError{Field: "display_name", Message: fmt.Sprintf("exceeds maximum length of %d", MaxDisplayNameLength)}
	}
	return nil
}

// ValidateVersion checks a mod or build version label. Labels are opaque;
// only emptiness, whitespace and length are checked.
func ValidateVersion(field, v string) error {
	switch {
	case v == "":
		return &ValidationError{Field: field, Message: "cannot be empty"}
	case strings.ContainsAny(v, " \t\r\n/"):
		return &ValidationError{Field: field, Message: "cannot contain whitespace or '/'"}
	case len(v) > MaxVersionLength:
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", MaxVersionLength)}
	}
	return nil
}

// ValidateMinecraftVersion checks that v parses as a release version such
// as 1.12 or 1.20.1.
func ValidateMinecraftVersion(field, v string) error {
	if err := ValidateVersion(field, v); err != nil {
		return err
	}
	if _, err := semver.NewVersion(v); err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%q is not a Minecraft release version", v)}
	}
	return nil
}

func validateModSpec(spec ModSpec) error {
	if err := ValidateSlug(spec.Name); err != nil {
		return err
	}
	if err := ValidateVersion("version", spec.Version); err != nil {
		return err
	}
	if err := ValidateMinecraftVersion("minecraft", spec.MCVersion); err != nil {
		return err
	}
	if !spec.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown mod type %q", spec.Type)}
	}
	if spec.Filesize < 0 {
		return &ValidationError{Field: "filesize", Message: "cannot be negative"}
	}
	return nil
}

func validateBuildSpec(spec BuildSpec) error {
	if err := ValidateVersion("version", spec.Version); err != nil {
		return err
	}
	if err := ValidateMinecraftVersion("minecraft", spec.Minecraft); err != nil {
		return err
	}
	if spec.Java <= 0 {
		return &ValidationError{Field: "java", Message: "must be a positive Java major version"}
	}
	if spec.Memory < 0 {
		return &ValidationError{Field: "memory", Message: "cannot be negative"}
	}
	return nil
}
