package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaylabs/token-market/internal/model"
)

const paymentInsert = "INSERT INTO payment_logs (user_id, checkout_ref, amount_eur, minutes, status) VALUES (?,?,?,?,'created')"

func newPaymentMock(t *testing.T) (sqlmock.Sqlmock, *PaymentRepo, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return mock, NewPaymentRepo(db), func() { db.Close() }
}

func TestCreatePayment(t *testing.T) {
	mock, repo, done := newPaymentMock(t)
	defer done()

	mock.ExpectExec(paymentInsert).
		WithArgs(uint64(7), "cs_1", 495.0, uint32(60)).
		WillReturnResult(sqlmock.NewResult(3, 1))

	p := &model.PaymentLog{UserID: 7, CheckoutRef: "cs_1", AmountEUR: 495, Minutes: 60}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.Equal(t, uint64(3), p.ID)
	assert.Equal(t, model.PaymentStatusCreated, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentDuplicateRefIsSuccess(t *testing.T) {
	mock, repo, done := newPaymentMock(t)
	defer done()

	mock.ExpectExec(paymentInsert).
		WithArgs(uint64(7), "cs_1", 495.0, uint32(60)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'cs_1' for key 'payment_logs.checkout_ref'"})

	p := &model.PaymentLog{UserID: 7, CheckoutRef: "cs_1", AmountEUR: 495, Minutes: 60}
	assert.NoError(t, repo.Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentSurfacesOtherDriverErrors(t *testing.T) {
	mock, repo, done := newPaymentMock(t)
	defer done()

	driverErr := &mysql.MySQLError{Number: 1406, Message: "Data too long for column 'checkout_ref'"}
	mock.ExpectExec(paymentInsert).
		WithArgs(uint64(7), "cs_1", 495.0, uint32(60)).
		WillReturnError(driverErr)

	p := &model.PaymentLog{UserID: 7, CheckoutRef: "cs_1", AmountEUR: 495, Minutes: 60}
	assert.ErrorIs(t, repo.Create(context.Background(), p), driverErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
