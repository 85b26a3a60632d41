package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaylabs/token-market/internal/model"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *TokenRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return mock, NewTokenRepo(db), func() { db.Close() }
}

func tokenRows(id uint64, owner interface{}, minutes uint32, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "owner_user_id", "issued_year", "minutes_remaining", "status", "original_price_eur", "created_at", "updated_at"}).
		AddRow(id, owner, 2026, minutes, status, 495.0, now, now)
}

func TestLockOldestActiveTx(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT " + tokenColumns + " FROM tokens WHERE owner_user_id = ? AND status = 'active' AND minutes_remaining > 0 ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE").
		WithArgs(uint64(7)).
		WillReturnRows(tokenRows(3, 7, 42, model.TokenStatusActive))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	token, err := repo.LockOldestActiveTx(context.Background(), tx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), token.ID)
	assert.Equal(t, uint32(42), token.MinutesRemaining)
	require.NotNil(t, token.OwnerUserID)
	assert.Equal(t, uint64(7), *token.OwnerUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOldestActiveTxNone(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT " + tokenColumns + " FROM tokens WHERE owner_user_id = ? AND status = 'active' AND minutes_remaining > 0 ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE").
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	_, err = repo.LockOldestActiveTx(context.Background(), tx, 7)
	assert.ErrorIs(t, err, ErrNoActiveToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementMinutesTx(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tokens SET minutes_remaining = ?, status = ? WHERE id = ?").
		WithArgs(uint32(55), model.TokenStatusActive, uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	token := &model.Token{ID: 3, MinutesRemaining: 60, Status: model.TokenStatusActive}
	remaining, err := repo.DecrementMinutesTx(context.Background(), tx, token, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(55), remaining)
	assert.Equal(t, uint32(55), token.MinutesRemaining)
	assert.Equal(t, model.TokenStatusActive, token.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementMinutesTxClampsAndSpends(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tokens SET minutes_remaining = ?, status = ? WHERE id = ?").
		WithArgs(uint32(0), model.TokenStatusSpent, uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	// asking for more minutes than the token has clamps at zero
	token := &model.Token{ID: 3, MinutesRemaining: 4, Status: model.TokenStatusActive}
	remaining, err := repo.DecrementMinutesTx(context.Background(), tx, token, 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), remaining)
	assert.Equal(t, model.TokenStatusSpent, token.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplyCounts(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT(*), COALESCE(SUM(status = 'active'), 0), COALESCE(SUM(status = 'listed'), 0), COALESCE(SUM(status = 'spent'), 0) FROM tokens").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "listed", "spent"}).AddRow(10, 6, 1, 3))

	supply, err := repo.SupplyCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Supply{Total: 10, Active: 6, Listed: 1, Spent: 3}, supply)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveByOwnerTx(t *testing.T) {
	mock, repo, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT(*) FROM tokens WHERE owner_user_id = ? AND status = 'active'").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(20))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	n, err := repo.CountActiveByOwnerTx(context.Background(), tx, 9)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
