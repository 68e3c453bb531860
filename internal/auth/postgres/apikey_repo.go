// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/store"
)

var apiKeyColumns = []string{"id", "owner_id", "key_hash", "fingerprint", "name", "created_at"}

// apiKeyRow is the scan target for api_keys rows.
type apiKeyRow struct {
	ID          string    `db:"id"`
	OwnerID     string    `db:"owner_id"`
	KeyHash     string    `db:"key_hash"`
	Fingerprint *string   `db:"fingerprint"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row apiKeyRow) toKey() (*auth.APIKey, error) {
	id, err := ulid.Parse(row.ID)
	if err != nil {
		return nil, oops.Code("APIKEY_INVALID_ID").With("id", row.ID).Wrap(err)
	}
	owner, err := ulid.Parse(row.OwnerID)
	if err != nil {
		return nil, oops.Code("APIKEY_INVALID_OWNER").With("owner_id", row.OwnerID).Wrap(err)
	}
	return &auth.APIKey{
		ID:          id,
		OwnerID:     owner,
		KeyHash:     row.KeyHash,
		Fingerprint: row.Fingerprint,
		Name:        row.Name,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

// APIKeyRepository implements auth.APIKeyRepository using PostgreSQL.
type APIKeyRepository struct {
	db store.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db store.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create stores a new key.
func (r *APIKeyRepository) Create(ctx context.Context, key *auth.APIKey) error {
	query, args, err := squirrel.Insert("api_keys").
		Columns(apiKeyColumns...).
		Values(key.ID.String(), key.OwnerID.String(), key.KeyHash, key.Fingerprint, key.Name, key.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("APIKEY_QUERY_BUILD_FAILED").Wrap(err)
	}
	if _, err := store.Conn(ctx, r.db).Exec(ctx, query, args...); err != nil {
		return store.DatabaseError("APIKEY_CREATE_FAILED", "insert api key", err)
	}
	return nil
}

// Candidates returns keys with the given fingerprint plus keys without one,
// oldest first. An empty fingerprint returns every key.
func (r *APIKeyRepository) Candidates(ctx context.Context, fingerprint string) ([]*auth.APIKey, error) {
	qb := squirrel.Select(apiKeyColumns...).
		From("api_keys").
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar)
	if fingerprint != "" {
		qb = qb.Where(squirrel.Or{
			squirrel.Eq{"fingerprint": fingerprint},
			squirrel.Eq{"fingerprint": nil},
		})
	}
	return r.selectKeys(ctx, qb, "APIKEY_CANDIDATES_FAILED")
}

// SetFingerprint records the fingerprint of a legacy key.
func (r *APIKeyRepository) SetFingerprint(ctx context.Context, id ulid.ULID, fingerprint string) error {
	query, args, err := squirrel.Update("api_keys").
		Set("fingerprint", fingerprint).
		Where(squirrel.Eq{"id": id.String()}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("APIKEY_QUERY_BUILD_FAILED").Wrap(err)
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return store.DatabaseError("APIKEY_UPDATE_FAILED", "set fingerprint", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("APIKEY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// ListByOwner returns the owner's keys, oldest first.
func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerID ulid.ULID) ([]*auth.APIKey, error) {
	qb := squirrel.Select(apiKeyColumns...).
		From("api_keys").
		Where(squirrel.Eq{"owner_id": ownerID.String()}).
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar)
	return r.selectKeys(ctx, qb, "APIKEY_LIST_FAILED")
}

// Delete removes a key.
func (r *APIKeyRepository) Delete(ctx context.Context, id ulid.ULID) error {
	query, args, err := squirrel.Delete("api_keys").
		Where(squirrel.Eq{"id": id.String()}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return oops.Code("APIKEY_QUERY_BUILD_FAILED").Wrap(err)
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return store.DatabaseError("APIKEY_DELETE_FAILED", "delete api key", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("APIKEY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *APIKeyRepository) selectKeys(ctx context.Context, qb squirrel.SelectBuilder, code string) ([]*auth.APIKey, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, oops.Code("APIKEY_QUERY_BUILD_FAILED").Wrap(err)
	}
	var rows []apiKeyRow
	if err := pgxscan.Select(ctx, store.Conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, store.DatabaseError(code, "select api keys", err)
	}
	keys := make([]*auth.APIKey, 0, len(rows))
	for _, row := range rows {
		key, err := row.toKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Compile-time interface check.
var _ auth.APIKeyRepository = (*APIKeyRepository)(nil)
