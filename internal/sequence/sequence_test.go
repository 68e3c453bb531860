// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package sequence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technicflux/technicflux/internal/sequence"
	"github.com/technicflux/technicflux/internal/store"
	"github.com/technicflux/technicflux/pkg/errutil"
)

func TestPostgresSequencer_Next(t *testing.T) {
	t.Run("returns incremented value", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("INSERT INTO counters").
			WithArgs(sequence.ModIDKey).
			WillReturnRows(mock.NewRows([]string{"seq"}).AddRow(int64(7)))

		got, err := sequence.NewPostgresSequencer(mock).Next(context.Background(), sequence.ModIDKey)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty key", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = sequence.NewPostgresSequencer(mock).Next(context.Background(), " ")
		errutil.AssertErrorCode(t, err, "SEQUENCE_INVALID_KEY")
	})

	t.Run("store failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("INSERT INTO counters").WillReturnError(errors.New("connection reset"))

		_, err = sequence.NewPostgresSequencer(mock).Next(context.Background(), "k")
		assert.ErrorIs(t, err, store.ErrDatabase)
	})

	t.Run("joins caller transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO counters").
			WithArgs("k").
			WillReturnRows(mock.NewRows([]string{"seq"}).AddRow(int64(1)))
		mock.ExpectRollback()

		seq := sequence.NewPostgresSequencer(mock)
		sentinel := errors.New("abort")
		err = store.NewTransactor(mock).InTransaction(context.Background(), func(ctx context.Context) error {
			_, err := seq.Next(ctx, "k")
			require.NoError(t, err)
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresSequencer_Current(t *testing.T) {
	t.Run("unseen key is zero", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT seq FROM counters").WithArgs("fresh").WillReturnError(pgx.ErrNoRows)

		got, err := sequence.NewPostgresSequencer(mock).Current(context.Background(), "fresh")
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("existing key", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT seq FROM counters").
			WithArgs("k").
			WillReturnRows(mock.NewRows([]string{"seq"}).AddRow(int64(3)))

		got, err := sequence.NewPostgresSequencer(mock).Current(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got)
	})
}
