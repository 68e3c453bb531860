// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/sequence"
)

// CreateModpack registers a modpack owned by ownerID. An empty displayName
// defaults to the slug; a zero ownerID creates a pack without owners.
func (s *Service) CreateModpack(ctx context.Context, slug, displayName string, ownerID ulid.ULID) (*Modpack, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, oops.Code("CATALOG_INVALID_MODPACK").Wrap(err)
	}
	if displayName == "" {
		displayName = slug
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, oops.Code("CATALOG_INVALID_MODPACK").Wrap(err)
	}

	pack := &Modpack{
		ID:          ulid.Make(),
		Name:        slug,
		DisplayName: displayName,
		CreatedAt:   s.stamp(),
	}
	if !ownerID.IsZero() {
		pack.OwnerIDs = []ulid.ULID{ownerID}
	}
	if err := s.modpacks.Create(ctx, pack); err != nil {
		return nil, oops.With("operation", "create modpack").With("slug", slug).Wrap(err)
	}
	pack.Builds = []*Build{}
	s.logger.InfoContext(ctx, "modpack created", "slug", slug, "modpack_id", pack.ID.String())
	return pack, nil
}

// UpdateModpack applies a patch. Version markers must name an existing build
// of the pack.
func (s *Service) UpdateModpack(ctx context.Context, slug string, update ModpackUpdate) (*Modpack, error) {
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		pack, err := s.modpacks.GetBySlug(ctx, slug)
		if err != nil {
			return err
		}
		if update.DisplayName != nil {
			if err := ValidateDisplayName(*update.DisplayName); err != nil {
				return err
			}
			pack.DisplayName = *update.DisplayName
		}
		if update.URL != nil {
			pack.URL = *update.URL
		}
		if update.Recommended != nil || update.Latest != nil {
			stubs, err := s.buildStubs(ctx, pack)
			if err != nil {
				return err
			}
			if pack.Recommended, err = applyMarker("recommended", update.Recommended, pack.Recommended, stubs); err != nil {
				return err
			}
			if pack.Latest, err = applyMarker("latest", update.Latest, pack.Latest, stubs); err != nil {
				return err
			}
		}
		return s.modpacks.Update(ctx, pack)
	})
	if err != nil {
		return nil, oops.With("operation", "update modpack").With("slug", slug).Wrap(err)
	}
	return s.ResolveModpack(ctx, slug)
}

func applyMarker(field string, patch, current *string, builds []*Build) (*string, error) {
	switch {
	case patch == nil:
		return current, nil
	case *patch == "":
		return nil, nil
	case findBuild(builds, *patch) == nil:
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("build %q does not exist", *patch)}
	}
	v := *patch
	return &v, nil
}

// DeleteModpack removes a modpack and its builds.
func (s *Service) DeleteModpack(ctx context.Context, slug string) error {
	if err := s.modpacks.Delete(ctx, slug); err != nil {
		return oops.With("operation", "delete modpack").With("slug", slug).Wrap(err)
	}
	s.logger.InfoContext(ctx, "modpack deleted", "slug", slug)
	return nil
}

// AddMember grants role on a modpack to an existing user.
func (s *Service) AddMember(ctx context.Context, slug string, userID ulid.ULID, role Role) error {
	if err := validateRole(role); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return oops.With("operation", "add member").With("user_id", userID.String()).Wrap(err)
	}
	pack, err := s.modpacks.GetBySlug(ctx, slug)
	if err != nil {
		return oops.With("operation", "add member").With("slug", slug).Wrap(err)
	}
	if err := s.modpacks.AddMember(ctx, pack.ID, userID, role); err != nil {
		return oops.With("operation", "add member").With("slug", slug).Wrap(err)
	}
	return nil
}

// AddBuild creates a build and appends it to the modpack's build list in one
// transaction, so a failed append leaves no orphaned build.
func (s *Service) AddBuild(ctx context.Context, slug string, spec BuildSpec) (*Build, error) {
	if err := validateBuildSpec(spec); err != nil {
		return nil, oops.Code("CATALOG_INVALID_BUILD").Wrap(err)
	}

	var build *Build
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		pack, err := s.modpacks.GetBySlug(ctx, slug)
		if err != nil {
			return err
		}
		b := &Build{
			ID:        ulid.Make(),
			ModpackID: pack.ID,
			Version:   spec.Version,
			Minecraft: spec.Minecraft,
			Java:      spec.Java,
			Memory:    spec.Memory,
			CreatedAt: s.stamp(),
		}
		if spec.Forge != "" {
			forge := spec.Forge
			b.Forge = &forge
		}
		if err := s.builds.Create(ctx, b); err != nil {
			return err
		}
		if err := s.modpacks.AppendBuild(ctx, pack.ID, b.ID); err != nil {
			return err
		}
		build = b
		return nil
	})
	if err != nil {
		return nil, oops.With("operation", "add build").With("slug", slug).With("version", spec.Version).Wrap(err)
	}

	build.Mods = []*Mod{}
	s.logger.InfoContext(ctx, "build added", "slug", slug, "version", build.Version, "build_id", build.ID.String())
	return build, nil
}

// DeleteBuild removes a build from a modpack. Version markers pointing at it
// are cleared.
func (s *Service) DeleteBuild(ctx context.Context, slug, version string) error {
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		pack, err := s.modpacks.GetBySlug(ctx, slug)
		if err != nil {
			return err
		}
		stubs, err := s.builds.GetStubs(ctx, pack.BuildRefs)
		if err != nil {
			return err
		}
		build := findBuild(stubs, version)
		if build == nil {
			return oops.Code("CATALOG_BUILD_NOT_FOUND").With("version", version).Wrap(ErrNotFound)
		}
		if err := s.modpacks.RemoveBuild(ctx, pack.ID, build.ID); err != nil {
			return err
		}
		if err := s.builds.Delete(ctx, build.ID); err != nil {
			return err
		}

		changed := false
		if pack.Recommended != nil && *pack.Recommended == version {
			pack.Recommended, changed = nil, true
		}
		if pack.Latest != nil && *pack.Latest == version {
			pack.Latest, changed = nil, true
		}
		if changed {
			return s.modpacks.Update(ctx, pack)
		}
		return nil
	})
	if err != nil {
		return oops.With("operation", "delete build").With("slug", slug).With("version", version).Wrap(err)
	}
	s.logger.InfoContext(ctx, "build deleted", "slug", slug, "version", version)
	return nil
}

// CreateMod publishes a mod version. A new slug draws a family id from the
// sequencer; a further version of a known slug reuses the existing id. The
// slug family is locked for the transaction so two first versions of one
// slug cannot both draw an id.
func (s *Service) CreateMod(ctx context.Context, spec ModSpec) (*Mod, error) {
	if err := validateModSpec(spec); err != nil {
		return nil, oops.Code("CATALOG_INVALID_MOD").Wrap(err)
	}

	var mod *Mod
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.mods.LockFamily(ctx, spec.Name); err != nil {
			return err
		}
		familyID, exists, err := s.mods.FamilyID(ctx, spec.Name)
		if err != nil {
			return err
		}
		if !exists {
			if familyID, err = s.seq.Next(ctx, sequence.ModIDKey); err != nil {
				return err
			}
		}

		m := &Mod{
			ID:          ulid.Make(),
			ModID:       familyID,
			Name:        spec.Name,
			PrettyName:  spec.PrettyName,
			Version:     spec.Version,
			MCVersion:   spec.MCVersion,
			Type:        spec.Type,
			MD5:         spec.MD5,
			Author:      spec.Author,
			Description: spec.Description,
			Link:        spec.Link,
			Donate:      spec.Donate,
			URL:         spec.URL,
			Filesize:    spec.Filesize,
			CreatedAt:   s.stamp(),
		}
		if err := s.mods.Create(ctx, m); err != nil {
			return err
		}
		mod = m
		return nil
	})
	if err != nil {
		return nil, oops.With("operation", "create mod").With("slug", spec.Name).With("version", spec.Version).Wrap(err)
	}

	s.logger.InfoContext(ctx, "mod version created", "slug", mod.Name, "version", mod.Version, "mod_id", mod.ModID)
	return mod, nil
}

// UpdateMod patches one mod version.
func (s *Service) UpdateMod(ctx context.Context, slug, version string, update ModUpdate) (*Mod, error) {
	mod, err := s.mods.GetVersion(ctx, slug, version)
	if err != nil {
		return nil, oops.With("operation", "update mod").With("slug", slug).With("version", version).Wrap(err)
	}
	if err := applyModUpdate(mod, update); err != nil {
		return nil, oops.Code("CATALOG_INVALID_MOD").Wrap(err)
	}
	if err := s.mods.Update(ctx, mod); err != nil {
		return nil, oops.With("operation", "update mod").With("slug", slug).With("version", version).Wrap(err)
	}
	return mod, nil
}

func applyModUpdate(mod *Mod, u ModUpdate) error {
	if u.MCVersion != nil {
		if err := ValidateMinecraftVersion("minecraft", *u.MCVersion); err != nil {
			return err
		}
		mod.MCVersion = *u.MCVersion
	}
	if u.Type != nil {
		if !u.Type.Valid() {
			return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown mod type %q", *u.Type)}
		}
		mod.Type = *u.Type
	}
	if u.Filesize != nil {
		if *u.Filesize < 0 {
			return &ValidationError{Field: "filesize", Message: "cannot be negative"}
		}
		mod.Filesize = *u.Filesize
	}
	setIf(&mod.PrettyName, u.PrettyName)
	setIf(&mod.MD5, u.MD5)
	setIf(&mod.Author, u.Author)
	setIf(&mod.Description, u.Description)
	setIf(&mod.Link, u.Link)
	setIf(&mod.Donate, u.Donate)
	setIf(&mod.URL, u.URL)
	return nil
}

func setIf(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

// DeleteModVersion removes one mod row. Builds still listing it fail to
// resolve until the reference is removed.
func (s *Service) DeleteModVersion(ctx context.Context, slug, version string) error {
	if err := s.mods.Delete(ctx, slug, version); err != nil {
		return oops.With("operation", "delete mod version").With("slug", slug).With("version", version).Wrap(err)
	}
	s.logger.InfoContext(ctx, "mod version deleted", "slug", slug, "version", version)
	return nil
}

// AddModToBuild appends a mod version to a build's mod list. A build holds
// at most one version of each mod slug.
func (s *Service) AddModToBuild(ctx context.Context, packSlug, buildVersion, modSlug, modVersion string) (*Build, error) {
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		pack, err := s.modpacks.GetBySlug(ctx, packSlug)
		if err != nil {
			return err
		}
		stubs, err := s.buildStubs(ctx, pack)
		if err != nil {
			return err
		}
		stub := findBuild(stubs, buildVersion)
		if stub == nil {
			return oops.Code("CATALOG_BUILD_NOT_FOUND").With("version", buildVersion).Wrap(ErrNotFound)
		}
		mod, err := s.mods.GetVersion(ctx, modSlug, modVersion)
		if err != nil {
			return err
		}

		build, err := s.builds.Get(ctx, stub.ID)
		if err != nil {
			return err
		}
		current, err := s.expandMods(ctx, build)
		if err != nil {
			return err
		}
		for _, m := range current {
			if m.Name == modSlug {
				return oops.Code("CATALOG_MOD_ALREADY_IN_BUILD").
					With("mod", modSlug).
					With("present_version", m.Version).
					Wrap(ErrDuplicateVersion)
			}
		}
		return s.builds.AppendMod(ctx, build.ID, mod.ID)
	})
	if err != nil {
		return nil, oops.With("operation", "add mod to build").
			With("slug", packSlug).
			With("build", buildVersion).
			With("mod", modSlug+"@"+modVersion).
			Wrap(err)
	}
	return s.ResolveBuild(ctx, packSlug, buildVersion)
}
