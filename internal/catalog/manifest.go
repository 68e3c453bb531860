// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Manifest is a catalog seed file.
type Manifest struct {
	Mods     []ModSpec         `json:"mods,omitempty" yaml:"mods,omitempty"`
	Modpacks []ModpackManifest `json:"modpacks,omitempty" yaml:"modpacks,omitempty"`
}

// ModpackManifest declares one modpack with its builds.
type ModpackManifest struct {
	Name        string `json:"name" yaml:"name" jsonschema:"required,pattern=^[a-z0-9]+([-_][a-z0-9]+)*$"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	// Owner is a username.
	Owner        string          `json:"owner,omitempty" yaml:"owner,omitempty"`
	Contributors []string        `json:"contributors,omitempty" yaml:"contributors,omitempty"`
	Recommended  string          `json:"recommended,omitempty" yaml:"recommended,omitempty"`
	Latest       string          `json:"latest,omitempty" yaml:"latest,omitempty"`
	Builds       []BuildManifest `json:"builds,omitempty" yaml:"builds,omitempty"`
}

// BuildManifest declares one build and its mods.
type BuildManifest struct {
	BuildSpec `yaml:",inline"`
	// Mods lists mod versions as "slug@version".
	Mods []string `json:"mods,omitempty" yaml:"mods,omitempty" jsonschema:"uniqueItems=true"`
}

// ModRef is a parsed "slug@version" reference.
type ModRef struct {
	Slug    string
	Version string
}

func (r ModRef) String() string {
	return r.Slug + "@" + r.Version
}

// ParseModRef parses "slug@version".
func ParseModRef(s string) (ModRef, error) {
	slugPart, version, ok := strings.Cut(s, "@")
	if !ok || slugPart == "" || version == "" {
		return ModRef{}, &ValidationError{Field: "mods", Message: fmt.Sprintf("%q is not of the form slug@version", s)}
	}
	return ModRef{Slug: slugPart, Version: version}, nil
}

// ParseManifest checks data against the manifest schema, decodes it and
// validates references between its entries.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateManifestSchema(data); err != nil {
		return nil, oops.Code("CATALOG_MANIFEST_INVALID").Wrap(err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("CATALOG_MANIFEST_INVALID").Wrap(fmt.Errorf("invalid YAML: %w", err))
	}
	if err := m.Validate(); err != nil {
		return nil, oops.Code("CATALOG_MANIFEST_INVALID").Wrap(err)
	}
	return &m, nil
}

// Validate applies the catalog field rules to every entry.
func (m *Manifest) Validate() error {
	for i, spec := range m.Mods {
		if err := validateModSpec(spec); err != nil {
			return fmt.Errorf("mods[%d]: %w", i, err)
		}
	}

	seen := make(map[string]bool, len(m.Modpacks))
	for i, pack := range m.Modpacks {
		if err := ValidateSlug(pack.Name); err != nil {
			return fmt.Errorf("modpacks[%d]: %w", i, err)
		}
		if seen[pack.Name] {
			return fmt.Errorf("modpacks[%d]: %w", i, &ValidationError{Field: "name", Message: fmt.Sprintf("modpack %q declared twice", pack.Name)})
		}
		seen[pack.Name] = true

		versions := make(map[string]bool, len(pack.Builds))
		for j, build := range pack.Builds {
			if err := validateBuildSpec(build.BuildSpec); err != nil {
				return fmt.Errorf("modpacks[%d].builds[%d]: %w", i, j, err)
			}
			if versions[build.Version] {
				return fmt.Errorf("modpacks[%d].builds[%d]: %w", i, j, &ValidationError{Field: "version", Message: fmt.Sprintf("build %q declared twice", build.Version)})
			}
			versions[build.Version] = true
			for _, ref := range build.Mods {
				if _, err := ParseModRef(ref); err != nil {
					return fmt.Errorf("modpacks[%d].builds[%d]: %w", i, j, err)
				}
			}
		}
		for field, marker := range map[string]string{"recommended": pack.Recommended, "latest": pack.Latest} {
			if marker != "" && !versions[marker] {
				return fmt.Errorf("modpacks[%d]: %w", i, &ValidationError{Field: field, Message: fmt.Sprintf("build %q is not declared", marker)})
			}
		}
	}
	return nil
}
