// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package postgres implements the catalog repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/catalog"
	"github.com/technicflux/technicflux/internal/store"
)

var modColumns = []string{
	"id", "mod_id", "name", "pretty_name", "version", "mc_version", "type", "md5",
	"author", "description", "link", "donate", "url", "filesize", "created_at",
}

// modRow is the scan target for mods rows.
type modRow struct {
	ID          string    `db:"id"`
	ModID       int64     `db:"mod_id"`
	Name        string    `db:"name"`
	PrettyName  string    `db:"pretty_name"`
	Version     string    `db:"version"`
	MCVersion   string    `db:"mc_version"`
	Type        string    `db:"type"`
	MD5         string    `db:"md5"`
	Author      string    `db:"author"`
	Description string    `db:"description"`
	Link        string    `db:"link"`
	Donate      string    `db:"donate"`
	URL         string    `db:"url"`
	Filesize    int64     `db:"filesize"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row modRow) toMod() (*catalog.Mod, error) {
	id, err := ulid.Parse(row.ID)
	if err != nil {
		return nil, oops.Code("MOD_INVALID_ID").With("id", row.ID).Wrap(err)
	}
	return &catalog.Mod{
		ID:          id,
		ModID:       row.ModID,
		Name:        row.Name,
		PrettyName:  row.PrettyName,
		Version:     row.Version,
		MCVersion:   row.MCVersion,
		Type:        catalog.ModType(row.Type),
		MD5:         row.MD5,
		Author:      row.Author,
		Description: row.Description,
		Link:        row.Link,
		Donate:      row.Donate,
		URL:         row.URL,
		Filesize:    row.Filesize,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

// ModRepository implements catalog.ModRepository using PostgreSQL.
type ModRepository struct {
	db store.DB
}

// NewModRepository creates a new ModRepository.
func NewModRepository(db store.DB) *ModRepository {
	return &ModRepository{db: db}
}

func selectMods() squirrel.SelectBuilder {
	return squirrel.Select(modColumns...).
		From("mods").
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar)
}

// ListBySlug returns every row of slug, oldest first.
func (r *ModRepository) ListBySlug(ctx context.Context, slug string) ([]*catalog.Mod, error) {
	return r.selectMods(ctx, selectMods().Where(squirrel.Eq{"name": slug}), "MOD_LIST_BY_SLUG_FAILED")
}

// GetVersion returns one row.
func (r *ModRepository) GetVersion(ctx context.Context, slug, version string) (*catalog.Mod, error) {
	query, args, err := selectMods().
		Where(squirrel.Eq{"name": slug, "version": version}).
		ToSql()
	if err != nil {
		return nil, oops.Code("MOD_QUERY_BUILD_FAILED").Wrap(err)
	}
	var row modRow
	err = pgxscan.Get(ctx, store.Conn(ctx, r.db), &row, query, args...)
	if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MOD_NOT_FOUND").
			With("slug", slug).
			With("version", version).
			Wrap(catalog.ErrNotFound)
	}
	if err != nil {
		return nil, store.DatabaseError("MOD_GET_FAILED", "get mod version", err)
	}
	return row.toMod()
}

// GetByIDs returns the stored rows among ids.
func (r *ModRepository) GetByIDs(ctx context.Context, ids []ulid.ULID) ([]*catalog.Mod, error) {
	if len(ids) == 0 {
		return []*catalog.Mod{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return r.selectMods(ctx, selectMods().Where(squirrel.Eq{"id": keys}), "MOD_GET_BY_IDS_FAILED")
}

// List returns the rows matching filter, oldest first.
func (r *ModRepository) List(ctx context.Context, filter catalog.ModFilter) ([]*catalog.Mod, error) {
	qb := selectMods()
	if filter.Type != "" {
		qb = qb.Where(squirrel.Eq{"type": string(filter.Type)})
	}
	if filter.MinecraftVersion != "" {
		qb = qb.Where(squirrel.Eq{"mc_version": filter.MinecraftVersion})
	}
	return r.selectMods(ctx, qb, "MOD_LIST_FAILED")
}

// LockFamily takes a transaction-scoped advisory lock on the slug.
func (r *ModRepository) LockFamily(ctx context.Context, slug string) error {
	if err := store.RequireTx(ctx); err != nil {
		return err
	}
	if _, err := store.Conn(ctx, r.db).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "mod:"+slug); err != nil {
		return store.DatabaseError("MOD_LOCK_FAILED", "lock mod family", err)
	}
	return nil
}

// FamilyID returns the mod_id shared by existing rows of slug.
func (r *ModRepository) FamilyID(ctx context.Context, slug string) (int64, bool, error) {
	var id int64
	err := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT mod_id FROM mods WHERE name = $1 LIMIT 1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.DatabaseError("MOD_FAMILY_FAILED", "get mod family id", err)
	}
	return id, true, nil
}

// Create stores a new row.
func (r *ModRepository) Create(ctx context.Context, mod *catalog.Mod) error {
	query, args, err := squirrel.Insert("mods").
		Columns(modColumns...).
		Values(
			mod.ID.String(), mod.ModID, mod.Name, mod.PrettyName, mod.Version, mod.MCVersion,
			string(mod.Type), mod.MD5, mod.Author, mod.Description, mod.Link, mod.Donate,
			mod.URL, mod.Filesize, mod.CreatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("MOD_QUERY_BUILD_FAILED").Wrap(err)
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, query, args...)
	if store.IsUniqueViolation(err) {
		return oops.Code("MOD_DUPLICATE").
			With("slug", mod.Name).
			With("version", mod.Version).
			Wrap(catalog.ErrDuplicateVersion)
	}
	if err != nil {
		return store.DatabaseError("MOD_CREATE_FAILED", "insert mod", err)
	}
	return nil
}

// Update writes every mutable column.
func (r *ModRepository) Update(ctx context.Context, mod *catalog.Mod) error {
	query, args, err := squirrel.Update("mods").
		SetMap(map[string]any{
			"pretty_name": mod.PrettyName,
			"mc_version":  mod.MCVersion,
			"type":        string(mod.Type),
			"md5":         mod.MD5,
			"author":      mod.Author,
			"description": mod.Description,
			"link":        mod.Link,
			"donate":      mod.Donate,
			"url":         mod.URL,
			"filesize":    mod.Filesize,
		}).
		Where(squirrel.Eq{"id": mod.ID.String()}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("MOD_QUERY_BUILD_FAILED").Wrap(err)
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return store.DatabaseError("MOD_UPDATE_FAILED", "update mod", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("MOD_NOT_FOUND").With("id", mod.ID.String()).Wrap(catalog.ErrNotFound)
	}
	return nil
}

// Delete removes one row.
func (r *ModRepository) Delete(ctx context.Context, slug, version string) error {
	query, args, err := squirrel.Delete("mods").
		Where(squirrel.Eq{"name": slug, "version": version}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("MOD_QUERY_BUILD_FAILED").Wrap(err)
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return store.DatabaseError("MOD_DELETE_FAILED", "delete mod", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("MOD_NOT_FOUND").
			With("slug", slug).
			With("version", version).
			Wrap(catalog.ErrNotFound)
	}
	return nil
}

func (r *ModRepository) selectMods(ctx context.Context, qb squirrel.SelectBuilder, code string) ([]*catalog.Mod, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, oops.Code("MOD_QUERY_BUILD_FAILED").Wrap(err)
	}
	var rows []modRow
	if err := pgxscan.Select(ctx, store.Conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, store.DatabaseError(code, "select mods", err)
	}
	mods := make([]*catalog.Mod, 0, len(rows))
	for _, row := range rows {
		mod, err := row.toMod()
		if err != nil {
			return nil, err
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// Compile-time interface check.
var _ catalog.ModRepository = (*ModRepository)(nil)
