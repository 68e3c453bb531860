// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO counters`).
		WithArgs("modId").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx := NewTransactor(mock)
	err = tx.InTransaction(context.Background(), func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		_, err := Conn(ctx, nil).Exec(ctx, `INSERT INTO counters (key, seq) VALUES ($1, 0)`, "modId")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("append failed")
	err = NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_BeginFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err = NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrDatabase)
	assert.False(t, called)
}

func TestTransactor_NestedReusesOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx := NewTransactor(mock)
	err = tx.InTransaction(context.Background(), func(ctx context.Context) error {
		return tx.InTransaction(ctx, func(inner context.Context) error {
			assert.Equal(t, Conn(ctx, nil), Conn(inner, nil))
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_FallsBackOutsideTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	assert.Equal(t, DB(mock), Conn(ctx, mock))
	assert.False(t, InTx(ctx))
	assert.Error(t, RequireTx(ctx))
}

func TestTransactor_InSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY`).
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT seq FROM counters`).
		WithArgs("modId").
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectCommit()

	err = NewTransactor(mock).InSnapshot(context.Background(), func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		var seq int64
		return Conn(ctx, nil).QueryRow(ctx, `SELECT seq FROM counters WHERE key = $1`, "modId").Scan(&seq)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_InSnapshotRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewTransactor(mock).InSnapshot(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_InSnapshotJoinsOuterTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx := NewTransactor(mock)
	err = tx.InTransaction(context.Background(), func(ctx context.Context) error {
		return tx.InSnapshot(ctx, func(inner context.Context) error {
			assert.True(t, InTx(inner))
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
