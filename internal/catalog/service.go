// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/sequence"
)

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Mods       ModRepository
	Modpacks   ModpackRepository
	Builds     BuildRepository
	Users      UserLookup
	Sequencer  sequence.Sequencer
	Transactor Transactor
	Logger     *slog.Logger
	// Now overrides the clock used for creation stamps.
	Now func() time.Time
}

// Service resolves and edits the catalog.
type Service struct {
	mods     ModRepository
	modpacks ModpackRepository
	builds   BuildRepository
	users    UserLookup
	seq      sequence.Sequencer
	tx       Transactor
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service with the given configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Mods == nil, cfg.Modpacks == nil, cfg.Builds == nil:
		return nil, oops.Code("CATALOG_INVALID_DEPENDENCY").Errorf("catalog repositories are required")
	case cfg.Users == nil:
		return nil, oops.Code("CATALOG_INVALID_DEPENDENCY").Errorf("user lookup is required")
	case cfg.Sequencer == nil:
		return nil, oops.Code("CATALOG_INVALID_DEPENDENCY").Errorf("sequencer is required")
	case cfg.Transactor == nil:
		return nil, oops.Code("CATALOG_INVALID_DEPENDENCY").Errorf("transactor is required")
	}
	s := &Service{
		mods:     cfg.Mods,
		modpacks: cfg.Modpacks,
		builds:   cfg.Builds,
		users:    cfg.Users,
		seq:      cfg.Sequencer,
		tx:       cfg.Transactor,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ResolveMod collapses every version row of slug into one summary. Identity
// fields come from the first stored row.
func (s *Service) ResolveMod(ctx context.Context, slug string) (*ModSummary, error) {
	rows, err := s.mods.ListBySlug(ctx, slug)
	if err != nil {
		return nil, oops.With("operation", "resolve mod").With("slug", slug).Wrap(err)
	}
	if len(rows) == 0 {
		return nil, oops.Code("CATALOG_MOD_NOT_FOUND").With("slug", slug).Wrap(ErrNotFound)
	}

	first := rows[0]
	summary := &ModSummary{
		ID:          first.ModID,
		Name:        first.Name,
		PrettyName:  first.PrettyName,
		Author:      first.Author,
		Description: first.Description,
		Link:        first.Link,
		Versions:    make([]string, 0, len(rows)),
	}
	for _, row := range rows {
		summary.Versions = append(summary.Versions, row.Version)
	}
	return summary, nil
}

// ResolveModVersion returns one mod row. A slug with no rows at all is
// reported as a missing mod rather than a missing version.
func (s *Service) ResolveModVersion(ctx context.Context, slug, version string) (*Mod, error) {
	mod, err := s.mods.GetVersion(ctx, slug, version)
	if errors.Is(err, ErrNotFound) {
		rows, listErr := s.mods.ListBySlug(ctx, slug)
		if listErr != nil {
			return nil, oops.With("operation", "resolve mod version").With("slug", slug).Wrap(listErr)
		}
		if len(rows) == 0 {
			return nil, oops.Code("CATALOG_MOD_NOT_FOUND").With("slug", slug).With("version", version).Wrap(ErrNotFound)
		}
	}
	if err != nil {
		return nil, oops.With("operation", "resolve mod version").With("slug", slug).With("version", version).Wrap(err)
	}
	return mod, nil
}

// ListMods returns the rows matching filter.
func (s *Service) ListMods(ctx context.Context, filter ModFilter) ([]*Mod, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, oops.Code("CATALOG_INVALID_FILTER").
			Wrap(&ValidationError{Field: "type", Message: fmt.Sprintf("unknown mod type %q", filter.Type)})
	}
	mods, err := s.mods.List(ctx, filter)
	if err != nil {
		return nil, oops.With("operation", "list mods").Wrap(err)
	}
	if mods == nil {
		mods = []*Mod{}
	}
	return mods, nil
}

// ResolveModpack returns the modpack with members and build stubs expanded.
// Builds carry no mods.
func (s *Service) ResolveModpack(ctx context.Context, slug string) (*Modpack, error) {
	pack, err := s.loadPack(ctx, slug)
	if err != nil {
		return nil, oops.With("operation", "resolve modpack").With("slug", slug).Wrap(err)
	}
	if err := s.populateMembers(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// ListModpacks returns slug to display name for every modpack.
func (s *Service) ListModpacks(ctx context.Context) (map[string]string, error) {
	names, err := s.modpacks.ListNames(ctx)
	if err != nil {
		return nil, oops.With("operation", "list modpacks").Wrap(err)
	}
	if names == nil {
		names = map[string]string{}
	}
	return names, nil
}

// ListModpackBuilds returns build metadata of a modpack in list order.
func (s *Service) ListModpackBuilds(ctx context.Context, slug string) ([]*Build, error) {
	pack, err := s.loadPack(ctx, slug)
	if err != nil {
		return nil, oops.With("operation", "list modpack builds").With("slug", slug).Wrap(err)
	}
	return pack.Builds, nil
}

// ListModpacksByMember returns the modpacks on which userID holds role.
func (s *Service) ListModpacksByMember(ctx context.Context, userID ulid.ULID, role Role) ([]*Modpack, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}
	var packs []*Modpack
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if packs, err = s.modpacks.ListByMember(ctx, userID, role); err != nil {
			return err
		}
		for _, pack := range packs {
			if pack.Builds, err = s.buildStubs(ctx, pack); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, oops.With("operation", "list modpacks by member").With("user_id", userID.String()).Wrap(err)
	}
	for _, pack := range packs {
		if err := s.populateMembers(ctx, pack); err != nil {
			return nil, err
		}
	}
	if packs == nil {
		packs = []*Modpack{}
	}
	return packs, nil
}

// ResolveBuild returns one build of a modpack with its mods expanded.
//
// Phase one loads the modpack's build stubs and picks the requested
// version; phase two loads only that build with its mod list. A build
// deleted between the phases is reported as not found.
func (s *Service) ResolveBuild(ctx context.Context, slug, version string) (*Build, error) {
	pack, err := s.loadPack(ctx, slug)
	if err != nil {
		return nil, oops.With("operation", "resolve build").With("slug", slug).Wrap(err)
	}
	stub := findBuild(pack.Builds, version)
	if stub == nil {
		return nil, oops.Code("CATALOG_BUILD_NOT_FOUND").
			With("slug", slug).
			With("version", version).
			Wrap(ErrNotFound)
	}

	build, err := s.builds.Get(ctx, stub.ID)
	if err != nil {
		return nil, oops.With("operation", "load build").
			With("slug", slug).
			With("version", version).
			Wrap(err)
	}
	if build.Mods, err = s.expandMods(ctx, build); err != nil {
		return nil, err
	}
	return build, nil
}

// loadPack reads a modpack and its build stubs from one snapshot, so a build
// deleted concurrently is either fully listed or fully absent.
func (s *Service) loadPack(ctx context.Context, slug string) (*Modpack, error) {
	var pack *Modpack
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if pack, err = s.modpacks.GetBySlug(ctx, slug); err != nil {
			return err
		}
		pack.Builds, err = s.buildStubs(ctx, pack)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pack, nil
}

func (s *Service) populateMembers(ctx context.Context, pack *Modpack) error {
	var err error
	if pack.Owners, err = s.members(ctx, pack, pack.OwnerIDs); err != nil {
		return err
	}
	if pack.Contributors, err = s.members(ctx, pack, pack.ContributorIDs); err != nil {
		return err
	}
	return nil
}

// buildStubs expands pack.BuildRefs in list order.
func (s *Service) buildStubs(ctx context.Context, pack *Modpack) ([]*Build, error) {
	if len(pack.BuildRefs) == 0 {
		return []*Build{}, nil
	}
	stubs, err := s.builds.GetStubs(ctx, pack.BuildRefs)
	if err != nil {
		return nil, oops.With("operation", "load build stubs").With("slug", pack.Name).Wrap(err)
	}
	byID := make(map[ulid.ULID]*Build, len(stubs))
	for _, b := range stubs {
		byID[b.ID] = b
	}
	out := make([]*Build, 0, len(pack.BuildRefs))
	for _, ref := range pack.BuildRefs {
		b, ok := byID[ref]
		if !ok {
			return nil, oops.Code("CATALOG_DANGLING_BUILD").
				With("slug", pack.Name).
				With("build_id", ref.String()).
				Wrap(ErrDanglingReference)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) members(ctx context.Context, pack *Modpack, ids []ulid.ULID) ([]Member, error) {
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.GetByID(ctx, id)
		if errors.Is(err, auth.ErrNotFound) {
			return nil, oops.Code("CATALOG_DANGLING_MEMBER").
				With("slug", pack.Name).
				With("user_id", id.String()).
				Wrap(ErrDanglingReference)
		}
		if err != nil {
			return nil, oops.With("operation", "load member").With("slug", pack.Name).Wrap(err)
		}
		out = append(out, Member{ID: user.ID, Username: user.Username, DisplayName: user.DisplayName})
	}
	return out, nil
}

// expandMods resolves build.ModRefs in list order.
func (s *Service) expandMods(ctx context.Context, build *Build) ([]*Mod, error) {
	if len(build.ModRefs) == 0 {
		return []*Mod{}, nil
	}
	rows, err := s.mods.GetByIDs(ctx, build.ModRefs)
	if err != nil {
		return nil, oops.With("operation", "expand build mods").With("build_id", build.ID.String()).Wrap(err)
	}
	byID := make(map[ulid.ULID]*Mod, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
	}
	out := make([]*Mod, 0, len(build.ModRefs))
	for _, ref := range build.ModRefs {
		m, ok := byID[ref]
		if !ok {
			return nil, oops.Code("CATALOG_DANGLING_MOD").
				With("build_id", build.ID.String()).
				With("mod_row_id", ref.String()).
				Wrap(ErrDanglingReference)
		}
		out = append(out, m)
	}
	return out, nil
}

func findBuild(builds []*Build, version string) *Build {
	for _, b := range builds {
		if b.Version == version {
			return b
		}
	}
	return nil
}

func validateRole(role Role) error {
	if role != RoleOwner && role != RoleContributor {
		return oops.Code("CATALOG_INVALID_ROLE").
			Wrap(&ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)})
	}
	return nil
}
