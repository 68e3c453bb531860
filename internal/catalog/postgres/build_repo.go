// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/internal/store"
)

// BuildRepository implements catalog.BuildRepository using PostgreSQL.
type BuildRepository struct {
	db store.DB
}

// NewBuildRepository creates a new BuildRepository.
func NewBuildRepository(db store.DB) *BuildRepository {
	return &BuildRepository{db: db}
}

const buildSelect = `
	SELECT id, modpack_id, version, minecraft, java, memory, forge, created_at
	FROM builds
`

// GetStubs returns build metadata for ids without mod lists.
func (r *BuildRepository) GetStubs(ctx context.Context, ids []ulid.ULID) ([]*catalog.Build, error) {
	if len(ids) == 0 {
		return []*catalog.Build{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := store.Conn(ctx, r.db).Query(ctx, buildSelect+`WHERE id = ANY($1)`, keys)
	if err != nil {
		return nil, store.DatabaseError("BUILD_STUBS_FAILED", "load build stubs", err)
	}
	defer rows.Close()

	builds := make([]*catalog.Build, 0, len(ids))
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, store.DatabaseError("BUILD_STUBS_FAILED", "scan build", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError("BUILD_STUBS_FAILED", "iterate builds", err)
	}
	return builds, nil
}

// Get returns one build with its mod list.
func (r *BuildRepository) Get(ctx context.Context, id ulid.ULID) (*catalog.Build, error) {
	db := store.Conn(ctx, r.db)
	build, err := scanBuild(db.QueryRow(ctx, buildSelect+`WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("BUILD_NOT_FOUND").
			With("id", id.String()).
			Wrap(catalog.ErrNotFound)
	}
	if err != nil {
		return nil, store.DatabaseError("BUILD_GET_FAILED", "get build", err)
	}
	build.ModRefs, err = queryIDs(ctx, db, "BUILD_MODS_FAILED", `
		SELECT mod_row_id FROM build_mods WHERE build_id = $1 ORDER BY position
	`, id.String())
	if err != nil {
		return nil, err
	}
	return build, nil
}

// Create stores a new build.
func (r *BuildRepository) Create(ctx context.Context, build *catalog.Build) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO builds (id, modpack_id, version, minecraft, java, memory, forge, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		build.ID.String(),
		build.ModpackID.String(),
		build.Version,
		build.Minecraft,
		build.Java,
		build.Memory,
		build.Forge,
		build.CreatedAt,
	)
	if store.IsUniqueViolation(err) {
		return oops.Code("BUILD_DUPLICATE").
			With("version", build.Version).
			Wrap(catalog.ErrDuplicateVersion)
	}
	if err != nil {
		return store.DatabaseError("BUILD_CREATE_FAILED", "insert build", err)
	}
	return nil
}

// Delete removes a build and its mod list.
func (r *BuildRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM builds WHERE id = $1`, id.String())
	if err != nil {
		return store.DatabaseError("BUILD_DELETE_FAILED", "delete build", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("BUILD_NOT_FOUND").
			With("id", id.String()).
			Wrap(catalog.ErrNotFound)
	}
	return nil
}

// AppendMod adds a mod row after the last entry of the build's mod list.
func (r *BuildRepository) AppendMod(ctx context.Context, buildID, modRowID ulid.ULID) error {
	if err := store.RequireTx(ctx); err != nil {
		return err
	}
	db := store.Conn(ctx, r.db)
	var locked string
	err := db.QueryRow(ctx, `SELECT id FROM builds WHERE id = $1 FOR UPDATE`, buildID.String()).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("BUILD_NOT_FOUND").
			With("id", buildID.String()).
			Wrap(catalog.ErrNotFound)
	}
	if err != nil {
		return store.DatabaseError("BUILD_LOCK_FAILED", "lock build", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO build_mods (build_id, mod_row_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM build_mods
		WHERE build_id = $1
	`, buildID.String(), modRowID.String())
	if err != nil {
		return store.DatabaseError("BUILD_APPEND_MOD_FAILED", "append mod", err)
	}
	return nil
}

// scanBuild scans a single row into a Build.
// Callers are responsible for handling pgx.ErrNoRows.
func scanBuild(row pgx.Row) (*catalog.Build, error) {
	var (
		idStr, packStr string
		build          catalog.Build
		createdAt      time.Time
	)
	if err := row.Scan(&idStr, &packStr, &build.Version, &build.Minecraft, &build.Java, &build.Memory, &build.Forge, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("BUILD_INVALID_ID").With("id", idStr).Wrap(err)
	}
	packID, err := ulid.Parse(packStr)
	if err != nil {
		return nil, oops.Code("BUILD_INVALID_ID").With("modpack_id", packStr).Wrap(err)
	}
	build.ID = id
	build.ModpackID = packID
	build.CreatedAt = createdAt.UTC()
	return &build, nil
}

// Compile-time interface check.
var _ catalog.BuildRepository = (*BuildRepository)(nil)
