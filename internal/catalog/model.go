// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package catalog resolves the modpack, build and mod graph into the views
// served by the Solder-compatible API, and owns the writes that shape it.
package catalog

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ModType is the loader a mod targets.
type ModType string

// Known mod types.
const (
	ModTypeForge     ModType = "forgemod"
	ModTypeNeoForge  ModType = "neoforgemod"
	ModTypeFabric    ModType = "fabricmod"
	ModTypeQuilt     ModType = "quiltmod"
	ModTypeModLoader ModType = "modloader"
)

// ModTypes lists every valid ModType.
var ModTypes = []ModType{ModTypeForge, ModTypeNeoForge, ModTypeFabric, ModTypeQuilt, ModTypeModLoader}

// Valid reports whether t is one of ModTypes.
func (t ModType) Valid() bool {
	for _, known := range ModTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Mod is one published version of a mod. Every row sharing a Name shares
// the family ModID.
type Mod struct {
	ID          ulid.ULID
	ModID       int64
	Name        string
	PrettyName  string
	Version     string
	MCVersion   string
	Type        ModType
	MD5         string
	Author      string
	Description string
	Link        string
	Donate      string
	URL         string
	Filesize    int64
	CreatedAt   time.Time
}

// ModSummary collapses every version row of one slug.
type ModSummary struct {
	ID          int64
	Name        string
	PrettyName  string
	Author      string
	Description string
	Link        string
	Versions    []string
}

// ModFilter narrows ListMods. Zero fields match everything.
type ModFilter struct {
	Type             ModType
	MinecraftVersion string
}

// Role is a user's relation to a modpack.
type Role string

// Modpack roles.
const (
	RoleOwner       Role = "owner"
	RoleContributor Role = "contributor"
)

// Member is a user expanded into a modpack view.
type Member struct {
	ID          ulid.ULID
	Username    string
	DisplayName string
}

// Build is one pinned combination of Minecraft, loader and mod versions.
type Build struct {
	ID        ulid.ULID
	ModpackID ulid.ULID
	Version   string
	Minecraft string
	Java      int
	Memory    int
	Forge     *string
	CreatedAt time.Time

	// ModRefs lists the referenced mod rows in build order. Repositories
	// fill it only when loading a single build.
	ModRefs []ulid.ULID
	// Mods is the expansion of ModRefs, set by ResolveBuild.
	Mods []*Mod
}

// Modpack is a named series of builds.
type Modpack struct {
	ID          ulid.ULID
	Name        string
	DisplayName string
	URL         string
	Recommended *string
	Latest      *string
	CreatedAt   time.Time

	BuildRefs      []ulid.ULID
	OwnerIDs       []ulid.ULID
	ContributorIDs []ulid.ULID

	// Expanded by ResolveModpack. Builds carry no mods.
	Builds       []*Build
	Owners       []Member
	Contributors []Member
}

// BuildVersions returns the versions of the expanded builds in order.
func (m *Modpack) BuildVersions() []string {
	versions := make([]string, 0, len(m.Builds))
	for _, b := range m.Builds {
		versions = append(versions, b.Version)
	}
	return versions
}

// ModSpec describes a mod version to publish.
type ModSpec struct {
	Name        string  `json:"name" yaml:"name" jsonschema:"required,pattern=^[a-z0-9]+([-_][a-z0-9]+)*$"`
	PrettyName  string  `json:"pretty_name,omitempty" yaml:"pretty_name,omitempty"`
	Version     string  `json:"version" yaml:"version" jsonschema:"required,minLength=1"`
	MCVersion   string  `json:"minecraft" yaml:"minecraft" jsonschema:"required,minLength=1"`
	Type        ModType `json:"type" yaml:"type" jsonschema:"required,enum=forgemod,enum=neoforgemod,enum=fabricmod,enum=quiltmod,enum=modloader"`
	MD5         string  `json:"md5,omitempty" yaml:"md5,omitempty"`
	Author      string  `json:"author,omitempty" yaml:"author,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Link        string  `json:"link,omitempty" yaml:"link,omitempty"`
	Donate      string  `json:"donate,omitempty" yaml:"donate,omitempty"`
	URL         string  `json:"url,omitempty" yaml:"url,omitempty"`
	Filesize    int64   `json:"filesize,omitempty" yaml:"filesize,omitempty" jsonschema:"minimum=0"`
}

// ModUpdate patches a mod version. Nil fields are left alone.
type ModUpdate struct {
	PrettyName  *string
	MCVersion   *string
	Type        *ModType
	MD5         *string
	Author      *string
	Description *string
	Link        *string
	Donate      *string
	URL         *string
	Filesize    *int64
}

// BuildSpec describes a build to add to a modpack.
type BuildSpec struct {
	Version   string `json:"version" yaml:"version" jsonschema:"required,minLength=1"`
	Minecraft string `json:"minecraft" yaml:"minecraft" jsonschema:"required,minLength=1"`
	Java      int    `json:"java" yaml:"java" jsonschema:"required,minimum=1"`
	Memory    int    `json:"memory,omitempty" yaml:"memory,omitempty" jsonschema:"minimum=0"`
	// Forge is the loader version; empty means none.
	Forge string `json:"forge,omitempty" yaml:"forge,omitempty"`
}

// ModpackUpdate patches a modpack. Nil fields are left alone; an empty
// Recommended or Latest clears the marker.
type ModpackUpdate struct {
	DisplayName *string
	URL         *string
	Recommended *string
	Latest      *string
}
