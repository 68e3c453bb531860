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

// ModpackRepository implements catalog.ModpackRepository using PostgreSQL.
type ModpackRepository struct {
	db store.DB
}

// NewModpackRepository creates a new ModpackRepository.
func NewModpackRepository(db store.DB) *ModpackRepository {
	return &ModpackRepository{db: db}
}

const modpackSelect = `
	SELECT id, name, display_name, COALESCE(url, ''), recommended, latest, created_at
	FROM modpacks
`

// GetBySlug retrieves a modpack with its build list and members.
func (r *ModpackRepository) GetBySlug(ctx context.Context, slug string) (*catalog.Modpack, error) {
	db := store.Conn(ctx, r.db)
	pack, err := scanModpack(db.QueryRow(ctx, modpackSelect+`WHERE name = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MODPACK_NOT_FOUND").
			With("slug", slug).
			Wrap(catalog.ErrNotFound)
	}
	if err != nil {
		return nil, store.DatabaseError("MODPACK_GET_FAILED", "get modpack", err)
	}
	if err := r.loadRefs(ctx, db, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// ListNames returns slug to display name for every modpack.
func (r *ModpackRepository) ListNames(ctx context.Context) (map[string]string, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT name, display_name FROM modpacks`)
	if err != nil {
		return nil, store.DatabaseError("MODPACK_LIST_FAILED", "list modpacks", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var name, display string
		if err := rows.Scan(&name, &display); err != nil {
			return nil, store.DatabaseError("MODPACK_LIST_FAILED", "scan modpack", err)
		}
		names[name] = display
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError("MODPACK_LIST_FAILED", "iterate modpacks", err)
	}
	return names, nil
}

// ListByMember returns the modpacks on which userID holds role, by slug.
func (r *ModpackRepository) ListByMember(ctx context.Context, userID ulid.ULID, role catalog.Role) ([]*catalog.Modpack, error) {
	db := store.Conn(ctx, r.db)
	rows, err := db.Query(ctx, `
		SELECT p.id, p.name, p.display_name, COALESCE(p.url, ''), p.recommended, p.latest, p.created_at
		FROM modpacks p
		JOIN modpack_members m ON m.modpack_id = p.id
		WHERE m.user_id = $1 AND m.role = $2
		ORDER BY p.name
	`, userID.String(), string(role))
	if err != nil {
		return nil, store.DatabaseError("MODPACK_LIST_BY_MEMBER_FAILED", "list modpacks by member", err)
	}

	var packs []*catalog.Modpack
	for rows.Next() {
		pack, err := scanModpack(rows)
		if err != nil {
			rows.Close()
			return nil, store.DatabaseError("MODPACK_LIST_BY_MEMBER_FAILED", "scan modpack", err)
		}
		packs = append(packs, pack)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError("MODPACK_LIST_BY_MEMBER_FAILED", "iterate modpacks", err)
	}

	for _, pack := range packs {
		if err := r.loadRefs(ctx, db, pack); err != nil {
			return nil, err
		}
	}
	return packs, nil
}

// Create stores a modpack and its owners.
func (r *ModpackRepository) Create(ctx context.Context, pack *catalog.Modpack) error {
	db := store.Conn(ctx, r.db)
	_, err := db.Exec(ctx, `
		INSERT INTO modpacks (id, name, display_name, url, recommended, latest, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`,
		pack.ID.String(),
		pack.Name,
		pack.DisplayName,
		pack.URL,
		pack.Recommended,
		pack.Latest,
		pack.CreatedAt,
	)
	if store.IsUniqueViolation(err) {
		return oops.Code("MODPACK_DUPLICATE").
			With("slug", pack.Name).
			Wrap(catalog.ErrDuplicateSlug)
	}
	if err != nil {
		return store.DatabaseError("MODPACK_CREATE_FAILED", "insert modpack", err)
	}
	for _, owner := range pack.OwnerIDs {
		if err := r.AddMember(ctx, pack.ID, owner, catalog.RoleOwner); err != nil {
			return err
		}
	}
	return nil
}

// Update writes display name, URL and version markers.
func (r *ModpackRepository) Update(ctx context.Context, pack *catalog.Modpack) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `
		UPDATE modpacks
		SET display_name = $2, url = NULLIF($3, ''), recommended = $4, latest = $5
		WHERE id = $1
	`, pack.ID.String(), pack.DisplayName, pack.URL, pack.Recommended, pack.Latest)
	if err != nil {
		return store.DatabaseError("MODPACK_UPDATE_FAILED", "update modpack", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MODPACK_NOT_FOUND").
			With("id", pack.ID.String()).
			Wrap(catalog.ErrNotFound)
	}
	return nil
}

// Delete removes a modpack. Builds, build lists and members cascade.
func (r *ModpackRepository) Delete(ctx context.Context, slug string) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM modpacks WHERE name = $1`, slug)
	if err != nil {
		return store.DatabaseError("MODPACK_DELETE_FAILED", "delete modpack", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MODPACK_NOT_FOUND").
			With("slug", slug).
			Wrap(catalog.ErrNotFound)
	}
	return nil
}

// AppendBuild adds buildID after the last entry of the build list. The
// modpack row is locked so concurrent appends get distinct positions.
func (r *ModpackRepository) AppendBuild(ctx context.Context, modpackID, buildID ulid.ULID) error {
	if err := store.RequireTx(ctx); err != nil {
		return err
	}
	db := store.Conn(ctx, r.db)
	if err := r.lockModpack(ctx, db, modpackID); err != nil {
		return err
	}
	_, err := db.Exec(ctx, `
		INSERT INTO modpack_builds (modpack_id, build_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM modpack_builds
		WHERE modpack_id = $1
	`, modpackID.String(), buildID.String())
	if err != nil {
		return store.DatabaseError("MODPACK_APPEND_BUILD_FAILED", "append build", err)
	}
	return nil
}

// RemoveBuild drops buildID from the build list.
func (r *ModpackRepository) RemoveBuild(ctx context.Context, modpackID, buildID ulid.ULID) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		DELETE FROM modpack_builds WHERE modpack_id = $1 AND build_id = $2
	`, modpackID.String(), buildID.String())
	if err != nil {
		return store.DatabaseError("MODPACK_REMOVE_BUILD_FAILED", "remove build", err)
	}
	return nil
}

// AddMember grants role to userID. Existing grants are left in place.
func (r *ModpackRepository) AddMember(ctx context.Context, modpackID, userID ulid.ULID, role catalog.Role) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO modpack_members (modpack_id, user_id, role, position)
		SELECT $1, $2, $3, COALESCE(MAX(position), 0) + 1
		FROM modpack_members
		WHERE modpack_id = $1 AND role = $3
		ON CONFLICT (modpack_id, role, user_id) DO NOTHING
	`, modpackID.String(), userID.String(), string(role))
	if err != nil {
		return store.DatabaseError("MODPACK_ADD_MEMBER_FAILED", "add member", err)
	}
	return nil
}

func (r *ModpackRepository) lockModpack(ctx context.Context, db store.DB, id ulid.ULID) error {
	var locked string
	err := db.QueryRow(ctx, `SELECT id FROM modpacks WHERE id = $1 FOR UPDATE`, id.String()).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("MODPACK_NOT_FOUND").
			With("id", id.String()).
			Wrap(catalog.ErrNotFound)
	}
	if err != nil {
		return store.DatabaseError("MODPACK_LOCK_FAILED", "lock modpack", err)
	}
	return nil
}

func (r *ModpackRepository) loadRefs(ctx context.Context, db store.DB, pack *catalog.Modpack) error {
	var err error
	pack.BuildRefs, err = queryIDs(ctx, db, "MODPACK_BUILDS_FAILED", `
		SELECT build_id FROM modpack_builds WHERE modpack_id = $1 ORDER BY position
	`, pack.ID.String())
	if err != nil {
		return err
	}
	pack.OwnerIDs, err = queryIDs(ctx, db, "MODPACK_MEMBERS_FAILED", `
		SELECT user_id FROM modpack_members WHERE modpack_id = $1 AND role = $2 ORDER BY position
	`, pack.ID.String(), string(catalog.RoleOwner))
	if err != nil {
		return err
	}
	pack.ContributorIDs, err = queryIDs(ctx, db, "MODPACK_MEMBERS_FAILED", `
		SELECT user_id FROM modpack_members WHERE modpack_id = $1 AND role = $2 ORDER BY position
	`, pack.ID.String(), string(catalog.RoleContributor))
	return err
}

// queryIDs runs a single-column query of ULID strings.
func queryIDs(ctx context.Context, db store.DB, code, query string, args ...any) ([]ulid.ULID, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, store.DatabaseError(code, "query references", err)
	}
	defer rows.Close()

	ids := []ulid.ULID{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, store.DatabaseError(code, "scan reference", err)
		}
		id, err := ulid.Parse(s)
		if err != nil {
			return nil, oops.Code("CATALOG_INVALID_REFERENCE").With("id", s).Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError(code, "iterate references", err)
	}
	return ids, nil
}

// scanModpack scans a single row into a Modpack.
// Callers are responsible for handling pgx.ErrNoRows.
func scanModpack(row pgx.Row) (*catalog.Modpack, error) {
	var (
		idStr     string
		pack      catalog.Modpack
		createdAt time.Time
	)
	if err := row.Scan(&idStr, &pack.Name, &pack.DisplayName, &pack.URL, &pack.Recommended, &pack.Latest, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("MODPACK_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	pack.ID = id
	pack.CreatedAt = createdAt.UTC()
	return &pack, nil
}

// Compile-time interface check.
var _ catalog.ModpackRepository = (*ModpackRepository)(nil)
