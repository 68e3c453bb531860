// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
	"github.com/technicflux/technicflux/internal/store"
)

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db store.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db store.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (id, username, display_name, password_hash, created_on)
		VALUES ($1, $2, $3, $4, $5)
	`,
		user.ID.String(),
		user.Username,
		user.DisplayName,
		user.PasswordHash,
		user.CreatedOn,
	)
	if store.IsUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE").
			With("username", user.Username).
			Wrap(auth.ErrDuplicateUsername)
	}
	if err != nil {
		return store.DatabaseError("USER_CREATE_FAILED", "insert user", err)
	}
	return nil
}

// GetByID retrieves a user and its login history.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	db := store.Conn(ctx, r.db)
	row := db.QueryRow(ctx, `
		SELECT id, username, display_name, password_hash, created_on
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, store.DatabaseError("USER_GET_BY_ID_FAILED", "get user by id", err)
	}
	if user.LoginHistory, err = r.loadHistory(ctx, db, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByUsername retrieves a user by exact, case-sensitive username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	db := store.Conn(ctx, r.db)
	row := db.QueryRow(ctx, `
		SELECT id, username, display_name, password_hash, created_on
		FROM users
		WHERE username = $1
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, store.DatabaseError("USER_GET_BY_USERNAME_FAILED", "get user by username", err)
	}
	if user.LoginHistory, err = r.loadHistory(ctx, db, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// List returns every user without login history.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT id, username, display_name, password_hash, created_on
		FROM users
		ORDER BY created_on, id
	`)
	if err != nil {
		return nil, store.DatabaseError("USER_LIST_FAILED", "list users", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, store.DatabaseError("USER_LIST_FAILED", "scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError("USER_LIST_FAILED", "iterate users", err)
	}
	return users, nil
}

// Update writes display name and password hash.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET display_name = $2, password_hash = $3
		WHERE id = $1
	`, user.ID.String(), user.DisplayName, user.PasswordHash)
	if err != nil {
		return store.DatabaseError("USER_UPDATE_FAILED", "update user", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// AppendLogin adds one row to the user's login history.
func (r *UserRepository) AppendLogin(ctx context.Context, id ulid.ULID, event auth.LoginEvent) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO user_logins (user_id, logged_in_at, user_agent)
		VALUES ($1, $2, $3)
	`, id.String(), event.Timestamp, event.UserAgent)
	if err != nil {
		return store.DatabaseError("USER_APPEND_LOGIN_FAILED", "append login", err)
	}
	return nil
}

// Delete removes a user. Login history goes with it.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return store.DatabaseError("USER_DELETE_FAILED", "delete user", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) loadHistory(ctx context.Context, db store.DB, id ulid.ULID) ([]auth.LoginEvent, error) {
	rows, err := db.Query(ctx, `
		SELECT logged_in_at, user_agent
		FROM user_logins
		WHERE user_id = $1
		ORDER BY id
	`, id.String())
	if err != nil {
		return nil, store.DatabaseError("USER_HISTORY_FAILED", "load login history", err)
	}
	defer rows.Close()

	var history []auth.LoginEvent
	for rows.Next() {
		var event auth.LoginEvent
		if err := rows.Scan(&event.Timestamp, &event.UserAgent); err != nil {
			return nil, store.DatabaseError("USER_HISTORY_FAILED", "scan login", err)
		}
		event.Timestamp = event.Timestamp.UTC()
		history = append(history, event)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError("USER_HISTORY_FAILED", "iterate logins", err)
	}
	return history, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		user      auth.User
		createdOn time.Time
	)
	if err := row.Scan(&idStr, &user.Username, &user.DisplayName, &user.PasswordHash, &createdOn); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	user.CreatedOn = createdOn.UTC()
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
