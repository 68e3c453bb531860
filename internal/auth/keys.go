// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/technicflux/technicflux/pkg/errutil"
)

// KeyRegistryConfig holds operator settings for API keys.
type KeyRegistryConfig struct {
	// MasterKey, when non-empty, always verifies without a stored record.
	MasterKey string
	// FingerprintSecret, when non-empty, enables HMAC fingerprints so
	// verification only runs the slow hash on matching candidates.
	FingerprintSecret string
}

// KeyRegistry owns API keys.
type KeyRegistry struct {
	keys   APIKeyRepository
	hasher SecretHasher
	cfg    KeyRegistryConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewKeyRegistry creates a KeyRegistry.
func NewKeyRegistry(keys APIKeyRepository, hasher SecretHasher, cfg KeyRegistryConfig, logger *slog.Logger) (*KeyRegistry, error) {
	if keys == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("api key repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyRegistry{keys: keys, hasher: hasher, cfg: cfg, logger: logger, now: time.Now}, nil
}

// CreateKey stores a hash of plaintext under the given owner and name.
func (r *KeyRegistry) CreateKey(ctx context.Context, ownerID ulid.ULID, plaintext, name string) (*APIKey, error) {
	if plaintext == "" {
		return nil, oops.Code("APIKEY_INVALID").Wrap(fmt.Errorf("key cannot be empty: %w", ErrInvalidInput))
	}
	if name == "" {
		return nil, oops.Code("APIKEY_INVALID").Wrap(fmt.Errorf("key name cannot be empty: %w", ErrInvalidInput))
	}

	hash, err := r.hasher.Hash(ctx, plaintext)
	if err != nil {
		return nil, oops.With("operation", "hash api key").Wrap(err)
	}

	key := &APIKey{
		ID:        ulid.Make(),
		OwnerID:   ownerID,
		KeyHash:   hash,
		Name:      name,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}
	if fp := r.fingerprint(plaintext); fp != "" {
		key.Fingerprint = &fp
	}

	if err := r.keys.Create(ctx, key); err != nil {
		return nil, oops.With("operation", "create api key").With("owner_id", ownerID.String()).Wrap(err)
	}
	r.logger.InfoContext(ctx, "api key created", "key_id", key.ID.String(), "owner_id", ownerID.String(), "name", name)
	return key, nil
}

// GenerateKey creates a key from fresh random material. The plaintext is
// returned once and cannot be recovered later.
func (r *KeyRegistry) GenerateKey(ctx context.Context, ownerID ulid.ULID, name string) (*APIKey, string, error) {
	plaintext, err := newKeyMaterial()
	if err != nil {
		return nil, "", err
	}
	key, err := r.CreateKey(ctx, ownerID, plaintext, name)
	if err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// Verify returns the key matching plaintext.
//
// Hashes are salted per record, so there is no index to look a key up by:
// every candidate is verified in turn until one matches. With a fingerprint
// secret configured the candidates are narrowed to keys sharing the
// plaintext's fingerprint plus keys stored without one.
func (r *KeyRegistry) Verify(ctx context.Context, plaintext string) (*APIKey, error) {
	if plaintext == "" {
		return nil, oops.Code("APIKEY_MISSING").Wrap(ErrKeyMissing)
	}

	if r.cfg.MasterKey != "" &&
		subtle.ConstantTimeCompare([]byte(plaintext), []byte(r.cfg.MasterKey)) == 1 {
		return &APIKey{Name: MasterKeyName, Master: true}, nil
	}

	fp := r.fingerprint(plaintext)
	candidates, err := r.keys.Candidates(ctx, fp)
	if err != nil {
		return nil, oops.With("operation", "load api key candidates").Wrap(err)
	}

	for _, key := range candidates {
		ok, err := r.hasher.Verify(ctx, plaintext, key.KeyHash)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, oops.Code("APIKEY_VERIFY_CANCELLED").Wrap(ctxErr)
		}
		if err != nil {
			errutil.LogWarnContext(ctx, r.logger, "stored api key hash unreadable", oops.With("key_id", key.ID.String()).Wrap(err))
			continue
		}
		if !ok {
			continue
		}
		if fp != "" && key.Fingerprint == nil {
			r.backfillFingerprint(ctx, key, fp)
		}
		return key, nil
	}

	return nil, oops.Code("APIKEY_INVALID").With("candidates", len(candidates)).Wrap(ErrInvalidKey)
}

func (r *KeyRegistry) backfillFingerprint(ctx context.Context, key *APIKey, fp string) {
	if err := r.keys.SetFingerprint(ctx, key.ID, fp); err != nil {
		errutil.LogWarnContext(ctx, r.logger, "api key fingerprint backfill failed", err)
		return
	}
	key.Fingerprint = &fp
}

// ListByOwner returns the keys belonging to ownerID.
func (r *KeyRegistry) ListByOwner(ctx context.Context, ownerID ulid.ULID) ([]*APIKey, error) {
	keys, err := r.keys.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, oops.With("operation", "list api keys").With("owner_id", ownerID.String()).Wrap(err)
	}
	return keys, nil
}

// Delete removes a key.
func (r *KeyRegistry) Delete(ctx context.Context, id ulid.ULID) error {
	if err := r.keys.Delete(ctx, id); err != nil {
		return oops.With("operation", "delete api key").Wrap(err)
	}
	r.logger.InfoContext(ctx, "api key deleted", "key_id", id.String())
	return nil
}

func (r *KeyRegistry) fingerprint(plaintext string) string {
	if r.cfg.FingerprintSecret == "" {
		return ""
	}
	return fingerprint([]byte(r.cfg.FingerprintSecret), plaintext)
}
