// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
)

// UsernameLookup resolves manifest owners. auth.Directory satisfies it.
type UsernameLookup interface {
	GetByUsername(ctx context.Context, username string) (*auth.User, error)
}

// SeedReport counts what Seed created and what it found already present.
type SeedReport struct {
	ModsCreated     int
	ModsSkipped     int
	ModpacksCreated int
	ModpacksSkipped int
	BuildsCreated   int
	BuildsSkipped   int
	ModsLinked      int
}

// Seed applies a manifest. Entries that already exist are skipped, so
// applying the same manifest twice is harmless.
func (s *Service) Seed(ctx context.Context, m *Manifest, users UsernameLookup) (*SeedReport, error) {
	report := &SeedReport{}

	for _, spec := range m.Mods {
		_, err := s.CreateMod(ctx, spec)
		switch {
		case errors.Is(err, ErrDuplicateVersion):
			report.ModsSkipped++
		case err != nil:
			return report, oops.With("operation", "seed mod").With("mod", spec.Name+"@"+spec.Version).Wrap(err)
		default:
			report.ModsCreated++
		}
	}

	for _, pack := range m.Modpacks {
		if err := s.seedModpack(ctx, pack, users, report); err != nil {
			return report, oops.With("operation", "seed modpack").With("slug", pack.Name).Wrap(err)
		}
	}

	s.logger.InfoContext(ctx, "catalog seeded",
		"mods_created", report.ModsCreated,
		"mods_skipped", report.ModsSkipped,
		"modpacks_created", report.ModpacksCreated,
		"modpacks_skipped", report.ModpacksSkipped,
		"builds_created", report.BuildsCreated,
		"builds_skipped", report.BuildsSkipped,
		"mods_linked", report.ModsLinked,
	)
	return report, nil
}

func (s *Service) seedModpack(ctx context.Context, pack ModpackManifest, users UsernameLookup, report *SeedReport) error {
	var owner ulid.ULID
	if pack.Owner != "" {
		u, err := users.GetByUsername(ctx, pack.Owner)
		if err != nil {
			return oops.With("owner", pack.Owner).Wrap(err)
		}
		owner = u.ID
	}

	_, err := s.CreateModpack(ctx, pack.Name, pack.DisplayName, owner)
	switch {
	case errors.Is(err, ErrDuplicateSlug):
		report.ModpacksSkipped++
	case err != nil:
		return err
	default:
		report.ModpacksCreated++
	}

	for _, name := range pack.Contributors {
		u, err := users.GetByUsername(ctx, name)
		if err != nil {
			return oops.With("contributor", name).Wrap(err)
		}
		if err := s.AddMember(ctx, pack.Name, u.ID, RoleContributor); err != nil {
			return err
		}
	}

	for _, build := range pack.Builds {
		_, err := s.AddBuild(ctx, pack.Name, build.BuildSpec)
		switch {
		case errors.Is(err, ErrDuplicateVersion):
			report.BuildsSkipped++
		case err != nil:
			return err
		default:
			report.BuildsCreated++
		}

		for _, raw := range build.Mods {
			ref, err := ParseModRef(raw)
			if err != nil {
				return err
			}
			_, err = s.AddModToBuild(ctx, pack.Name, build.Version, ref.Slug, ref.Version)
			switch {
			case errors.Is(err, ErrDuplicateVersion):
			case err != nil:
				return oops.With("build", build.Version).Wrap(err)
			default:
				report.ModsLinked++
			}
		}
	}

	update := ModpackUpdate{}
	if pack.URL != "" {
		update.URL = &pack.URL
	}
	if pack.Recommended != "" {
		update.Recommended = &pack.Recommended
	}
	if pack.Latest != "" {
		update.Latest = &pack.Latest
	}
	if update == (ModpackUpdate{}) {
		return nil
	}
	_, err = s.UpdateModpack(ctx, pack.Name, update)
	return err
}
