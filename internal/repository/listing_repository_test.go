package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaylabs/token-market/internal/model"
)

func newListingMock(t *testing.T) (sqlmock.Sqlmock, *ListingRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return mock, NewListingRepo(db), func() { db.Close() }
}

func TestCloseTx(t *testing.T) {
	mock, repo, done := newListingMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET status = ?, closed_at = NOW() WHERE id = ? AND status = 'open'").
		WithArgs(model.ListingStatusSold, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, repo.CloseTx(context.Background(), tx, 5, model.ListingStatusSold))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseTxAlreadyClosed(t *testing.T) {
	mock, repo, done := newListingMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET status = ?, closed_at = NOW() WHERE id = ? AND status = 'open'").
		WithArgs(model.ListingStatusSold, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	// a concurrent buyer already closed the listing
	assert.ErrorIs(t, repo.CloseTx(context.Background(), tx, 5, model.ListingStatusSold), ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
