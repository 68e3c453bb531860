// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/technicflux/technicflux/internal/auth"
)

// ModRepository manages mod rows.
type ModRepository interface {
	// ListBySlug returns every row of a slug in stored order (creation
	// time, then id). An unknown slug yields an empty slice.
	ListBySlug(ctx context.Context, slug string) ([]*Mod, error)

	// GetVersion returns one row. Returns ErrNotFound if absent.
	GetVersion(ctx context.Context, slug, version string) (*Mod, error)

	// GetByIDs returns the rows with the given ids in no particular order.
	// Missing ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []ulid.ULID) ([]*Mod, error)

	// List returns the rows matching filter in stored order.
	List(ctx context.Context, filter ModFilter) ([]*Mod, error)

	// LockFamily serializes writers of one slug until the surrounding
	// transaction ends.
	LockFamily(ctx context.Context, slug string) error

	// FamilyID returns the ModID shared by existing rows of slug, and
	// false when the slug has no rows.
	FamilyID(ctx context.Context, slug string) (int64, bool, error)

	// Create stores a row. Returns ErrDuplicateVersion when the slug already
	// has that version.
	Create(ctx context.Context, mod *Mod) error

	// Update writes every mutable column of an existing row.
	Update(ctx context.Context, mod *Mod) error

	// Delete removes one row. Returns ErrNotFound if absent.
	Delete(ctx context.Context, slug, version string) error
}

// ModpackRepository manages modpacks, their member lists and their ordered
// build lists.
type ModpackRepository interface {
	// GetBySlug returns the modpack with BuildRefs, OwnerIDs and
	// ContributorIDs filled. Returns ErrNotFound if absent.
	GetBySlug(ctx context.Context, slug string) (*Modpack, error)

	// ListNames returns slug to display name for every modpack.
	ListNames(ctx context.Context) (map[string]string, error)

	// ListByMember returns the modpacks on which userID holds role, ordered
	// by slug, with references filled.
	ListByMember(ctx context.Context, userID ulid.ULID, role Role) ([]*Modpack, error)

	// Create stores a modpack and its owners. Returns ErrDuplicateSlug when
	// the slug is taken.
	Create(ctx context.Context, pack *Modpack) error

	// Update writes display name, URL and version markers.
	Update(ctx context.Context, pack *Modpack) error

	// Delete removes a modpack with its builds. Returns ErrNotFound if absent.
	Delete(ctx context.Context, slug string) error

	// AppendBuild adds buildID to the end of the build list.
	AppendBuild(ctx context.Context, modpackID, buildID ulid.ULID) error

	// RemoveBuild drops buildID from the build list.
	RemoveBuild(ctx context.Context, modpackID, buildID ulid.ULID) error

	// AddMember grants role on the modpack to userID. Adding an existing
	// member is a no-op.
	AddMember(ctx context.Context, modpackID, userID ulid.ULID, role Role) error
}

// BuildRepository manages builds and their ordered mod lists.
type BuildRepository interface {
	// GetStubs returns build metadata without ModRefs for the given ids, in
	// no particular order. Missing ids are absent from the result.
	GetStubs(ctx context.Context, ids []ulid.ULID) ([]*Build, error)

	// Get returns one build with ModRefs filled. Returns ErrNotFound if absent.
	Get(ctx context.Context, id ulid.ULID) (*Build, error)

	// Create stores a build. Returns ErrDuplicateVersion when the modpack
	// already has that version.
	Create(ctx context.Context, build *Build) error

	// Delete removes a build. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error

	// AppendMod adds a mod row reference to the end of the build's mod list.
	AppendMod(ctx context.Context, buildID, modRowID ulid.ULID) error
}

// UserLookup resolves member references. auth.Directory satisfies it.
type UserLookup interface {
	GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error)
}

// Transactor runs fn in one transaction. store.Transactor satisfies it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// InSnapshot runs fn read-only against one consistent view of the store.
	InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}
