// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MasterKeyName is the name reported for the operator master key.
const MasterKeyName = "API KEY"

// generatedKeyPrefix marks keys created by GenerateKey.
const generatedKeyPrefix = "tfx_"

// APIKey is a stored API key. The plaintext is never stored.
type APIKey struct {
	ID ulid.ULID
	// OwnerID is a weak reference to a User.
	OwnerID ulid.ULID
	KeyHash string
	// Fingerprint is an HMAC of the plaintext used to narrow verification.
	// Nil for keys stored before a fingerprint secret was configured.
	Fingerprint *string
	Name        string
	CreatedAt   time.Time
	// Master is set on the synthetic record returned for the operator key.
	Master bool
}

// APIKeyRepository manages API key persistence.
type APIKeyRepository interface {
	// Create stores a new key.
	Create(ctx context.Context, key *APIKey) error

	// Candidates returns the keys a plaintext could match, in creation
	// order. An empty fingerprint returns every key; otherwise keys with that
	// fingerprint plus keys without one.
	Candidates(ctx context.Context, fingerprint string) ([]*APIKey, error)

	// SetFingerprint records the fingerprint of a key created without one.
	SetFingerprint(ctx context.Context, id ulid.ULID, fingerprint string) error

	// ListByOwner returns the keys of one owner in creation order.
	ListByOwner(ctx context.Context, ownerID ulid.ULID) ([]*APIKey, error)

	// Delete removes a key.
	Delete(ctx context.Context, id ulid.ULID) error
}

// fingerprint computes the hex HMAC-SHA256 of plaintext under secret.
func fingerprint(secret []byte, plaintext string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// newKeyMaterial returns a random printable API key.
func newKeyMaterial() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("APIKEY_GENERATE_FAILED").Wrap(err)
	}
	return generatedKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
