// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Package auth owns credentials: password hashing, user accounts with their
// login history, and API keys.
//
// # Hashing
//
// PasswordHasher is the synchronous argon2id primitive (legacy bcrypt hashes
// still verify). HashPool wraps it with a bounded number of concurrent
// workers and is the SecretHasher the services use.
//
// # Services
//
//   - Directory - user creation, authentication, profile updates
//   - KeyRegistry - API key creation and verification
//
// Both take their repositories as interfaces; PostgreSQL implementations live
// in the postgres subpackage and in-memory ones in authtest.
package auth
