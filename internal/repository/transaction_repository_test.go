package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaylabs/token-market/internal/model"
)

func newTxnMock(t *testing.T) (sqlmock.Sqlmock, *TransactionRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return mock, NewTransactionRepo(db), func() { db.Close() }
}

const balanceQuery = "SELECT COALESCE(SUM(CASE WHEN type IN ('purchase','trade_buy') THEN seconds_delta ELSE 0 END), 0), COALESCE(SUM(CASE WHEN type IN ('trade_sell','call_usage') THEN seconds_delta ELSE 0 END), 0) FROM transactions WHERE user_id = ?"

func TestBalanceMinutes(t *testing.T) {
	mock, repo, done := newTxnMock(t)
	defer done()

	// two purchases (2h) minus a 5-minute call
	mock.ExpectQuery(balanceQuery).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"bought", "spent"}).AddRow(7200.0, -300.0))

	b, err := repo.BalanceMinutes(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, Balance{BoughtMinutes: 120, SpentMinutes: 5, RemainingMinutes: 115}, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceMinutesClampsAtZero(t *testing.T) {
	mock, repo, done := newTxnMock(t)
	defer done()

	// spent exceeds bought (e.g. after an admin ledger clear mid-flight)
	mock.ExpectQuery(balanceQuery).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"bought", "spent"}).AddRow(300.0, -3600.0))

	b, err := repo.BalanceMinutes(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5.0, b.BoughtMinutes)
	assert.Equal(t, 60.0, b.SpentMinutes)
	assert.Equal(t, 0.0, b.RemainingMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTx(t *testing.T) {
	mock, repo, done := newTxnMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions (user_id, type, amount_eur, seconds_delta, note) VALUES (?,?,?,?,?)").
		WithArgs(uint64(7), model.TxTypePurchase, 495.0, int64(3600), "direct token purchase").
		WillReturnResult(sqlmock.NewResult(11, 1))

	tx, err := repo.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	entry := &model.Transaction{
		UserID:       7,
		Type:         model.TxTypePurchase,
		AmountEUR:    495,
		SecondsDelta: 3600,
		Note:         "direct token purchase",
	}
	require.NoError(t, repo.AppendTx(context.Background(), tx, entry))
	assert.Equal(t, uint64(11), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumSecondsWithTypes(t *testing.T) {
	mock, repo, done := newTxnMock(t)
	defer done()

	mock.ExpectQuery("SELECT COALESCE(SUM(seconds_delta), 0) FROM transactions WHERE user_id = ? AND type IN (?,?)").
		WithArgs(uint64(7), model.TxTypePurchase, model.TxTypeTradeBuy).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(7200))

	sum, err := repo.SumSeconds(context.Background(), 7, model.TxTypePurchase, model.TxTypeTradeBuy)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}
