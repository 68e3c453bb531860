// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package store

import (
	"context"

	"github.com/samber/oops"
)

type txKey struct{}

// Transactor runs functions inside a database transaction. The active pgx.Tx
// travels in the context so repositories built on Conn join it.
type Transactor struct {
	db DB
}

// NewTransactor creates a Transactor backed by db.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction begins a transaction, stores it in context, and calls fn.
// If fn returns nil, the transaction is committed. Otherwise it is rolled back.
// Nested calls reuse the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(DB); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return DatabaseError("TX_BEGIN_FAILED", "begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(context.WithValue(ctx, txKey{}, DB(tx))); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return DatabaseError("TX_COMMIT_FAILED", "commit transaction", err)
	}
	return nil
}

// InSnapshot runs fn in a read-only REPEATABLE READ transaction, so every
// statement fn issues sees the same committed state. Inside an existing
// transaction fn joins it.
func (t *Transactor) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(DB); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return DatabaseError("TX_BEGIN_FAILED", "begin snapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only, nothing to keep

	if _, err := tx.Exec(ctx, `SET TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY`); err != nil {
		return DatabaseError("TX_SNAPSHOT_FAILED", "set snapshot isolation", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, DB(tx))); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return DatabaseError("TX_COMMIT_FAILED", "commit snapshot", err)
	}
	return nil
}

// Conn returns the transaction carried by ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback DB) DB {
	if tx, ok := ctx.Value(txKey{}).(DB); ok {
		return tx
	}
	return fallback
}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(DB)
	return ok
}

// errNoTx is returned by helpers that require an enclosing transaction.
var errNoTx = oops.Code("TX_REQUIRED").Errorf("operation requires an active transaction")

// RequireTx returns an error unless ctx carries a transaction.
func RequireTx(ctx context.Context) error {
	if !InTx(ctx) {
		return errNoTx
	}
	return nil
}
