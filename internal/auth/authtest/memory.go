// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package authtest provides in-memory auth repositories for tests.
package authtest

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository. Setting one of the
// *Err fields makes the matching method fail.
type UserRepository struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User

	GetErr         error
	AppendLoginErr error
	UpdateErr      error

	AppendCalls int
	UpdateCalls int
}

// NewUserRepository returns an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[ulid.ULID]*auth.User)}
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	c.LoginHistory = slices.Clone(u.LoginHistory)
	return &c
}

// Create stores a copy of user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return oops.Code("USER_DUPLICATE").With("username", user.Username).Wrap(auth.ErrDuplicateUsername)
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

// GetByID returns a copy of the stored user.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneUser(u), nil
}

// GetByUsername returns a copy of the stored user.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
}

// List returns every user ordered by id.
func (r *UserRepository) List(_ context.Context) ([]*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	out := make([]*auth.User, 0, len(r.users))
	for _, u := range r.users {
		c := cloneUser(u)
		c.LoginHistory = nil
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *auth.User) int { return a.ID.Compare(b.ID) })
	return out, nil
}

// Update replaces display name and hash.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdateCalls++
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	u, ok := r.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	u.DisplayName = user.DisplayName
	u.PasswordHash = user.PasswordHash
	return nil
}

// AppendLogin appends to the stored history.
func (r *UserRepository) AppendLogin(_ context.Context, id ulid.ULID, event auth.LoginEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AppendCalls++
	if r.AppendLoginErr != nil {
		return r.AppendLoginErr
	}
	u, ok := r.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	u.LoginHistory = append(u.LoginHistory, event)
	return nil
}

// Delete removes the user.
func (r *UserRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.users, id)
	return nil
}

// APIKeyRepository is an in-memory auth.APIKeyRepository.
type APIKeyRepository struct {
	mu   sync.Mutex
	keys []*auth.APIKey

	CandidatesErr error
	// LastFingerprint is the fingerprint passed to the latest Candidates call.
	LastFingerprint string
}

// NewAPIKeyRepository returns an empty repository.
func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{}
}

func cloneKey(k *auth.APIKey) *auth.APIKey {
	c := *k
	if k.Fingerprint != nil {
		fp := *k.Fingerprint
		c.Fingerprint = &fp
	}
	return &c
}

// Create appends a copy of key.
func (r *APIKeyRepository) Create(_ context.Context, key *auth.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, cloneKey(key))
	return nil
}

// Candidates filters by fingerprint like the PostgreSQL implementation.
func (r *APIKeyRepository) Candidates(_ context.Context, fingerprint string) ([]*auth.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastFingerprint = fingerprint
	if r.CandidatesErr != nil {
		return nil, r.CandidatesErr
	}
	var out []*auth.APIKey
	for _, k := range r.keys {
		if fingerprint == "" || k.Fingerprint == nil || *k.Fingerprint == fingerprint {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

// SetFingerprint stores fp on the key.
func (r *APIKeyRepository) SetFingerprint(_ context.Context, id ulid.ULID, fp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.ID == id {
			k.Fingerprint = &fp
			return nil
		}
	}
	return oops.Code("APIKEY_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// ListByOwner returns the owner's keys.
func (r *APIKeyRepository) ListByOwner(_ context.Context, ownerID ulid.ULID) ([]*auth.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.APIKey
	for _, k := range r.keys {
		if k.OwnerID == ownerID {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

// Delete removes a key.
func (r *APIKeyRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, k := range r.keys {
		if k.ID == id {
			r.keys = slices.Delete(r.keys, i, i+1)
			return nil
		}
	}
	return oops.Code("APIKEY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
}

// Fingerprint returns the stored fingerprint of a key, or nil.
func (r *APIKeyRepository) Fingerprint(id ulid.ULID) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.ID == id {
			return k.Fingerprint
		}
	}
	return nil
}

// Compile-time interface checks.
var (
	_ auth.UserRepository   = (*UserRepository)(nil)
	_ auth.APIKeyRepository = (*APIKeyRepository)(nil)
)
