package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/payment"
	"github.com/fridaylabs/token-market/internal/repository"
)

const (
	paymentSelectForUpdate = "SELECT id, user_id, checkout_ref, amount_eur, minutes, status, created_at, updated_at FROM payment_logs WHERE checkout_ref = ? FOR UPDATE"
	paymentMarkPaid        = "UPDATE payment_logs SET status = 'paid' WHERE checkout_ref = ? AND status = 'created'"
	tokenInventoryLock     = "SELECT id, owner_user_id, issued_year, minutes_remaining, status, original_price_eur, created_at, updated_at FROM tokens WHERE owner_user_id IS NULL AND issued_year = ? AND status = 'active' ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE"
)

// fakeGateway satisfies CheckoutGateway without talking to Stripe.
type fakeGateway struct {
	event *payment.Event
	err   error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, _ uint64, _ uint32, _ float64) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (f *fakeGateway) VerifyWebhook(_ []byte, _ string) (*payment.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

func newPaymentHandler(t *testing.T, gw CheckoutGateway) (*PaymentHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	h := NewPaymentHandler(
		config.Config{},
		gw,
		repository.NewPaymentRepo(db),
		repository.NewTokenRepo(db),
		repository.NewTransactionRepo(db),
		repository.NewSettingsRepo(db),
	)
	return h, mock, func() { db.Close() }
}

func completedEvent(ref string) *payment.Event {
	ev := &payment.Event{ID: "evt_1", Type: "checkout.session.completed"}
	ev.Data.Object.ID = ref
	return ev
}

func webhookCtx() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=aa")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func paymentRow(userID uint64, ref string, amount float64, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "user_id", "checkout_ref", "amount_eur", "minutes", "status", "created_at", "updated_at"}).
		AddRow(1, userID, ref, amount, uint32(60), status, now, now)
}

func TestWebhookMintsOnFirstDelivery(t *testing.T) {
	h, mock, done := newPaymentHandler(t, &fakeGateway{event: completedEvent("cs_1")})
	defer done()

	year := time.Now().UTC().Year()
	mock.ExpectBegin()
	mock.ExpectQuery(paymentSelectForUpdate).WithArgs("cs_1").
		WillReturnRows(paymentRow(7, "cs_1", 495.0, "created"))
	mock.ExpectExec(paymentMarkPaid).WithArgs("cs_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// inventory empty, so a fresh token is minted for the payer
	mock.ExpectQuery(tokenInventoryLock).WithArgs(year).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(tokenInsert).
		WithArgs(uint64(7), year, uint32(60), "active", 495.0).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery(tokenSelectByID).WithArgs(uint64(9)).
		WillReturnRows(tokenRow(9, 7, 60, "active"))
	mock.ExpectExec(ledgerInsert).
		WithArgs(uint64(7), "purchase", 495.0, int64(3600), "checkout cs_1").
		WillReturnResult(sqlmock.NewResult(41, 1))
	mock.ExpectCommit()

	c, rec := webhookCtx()
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token_id":9`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookAssignsInventoryToken(t *testing.T) {
	h, mock, done := newPaymentHandler(t, &fakeGateway{event: completedEvent("cs_2")})
	defer done()

	year := time.Now().UTC().Year()
	mock.ExpectBegin()
	mock.ExpectQuery(paymentSelectForUpdate).WithArgs("cs_2").
		WillReturnRows(paymentRow(7, "cs_2", 495.0, "created"))
	mock.ExpectExec(paymentMarkPaid).WithArgs("cs_2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(tokenInventoryLock).WithArgs(year).
		WillReturnRows(tokenRow(5, nil, 60, "active"))
	mock.ExpectExec(tokenTransferUpdate).WithArgs(uint64(7), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(ledgerInsert).
		WithArgs(uint64(7), "purchase", 495.0, int64(3600), "checkout cs_2").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	c, rec := webhookCtx()
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token_id":5`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookReplayDoesNotMintAgain(t *testing.T) {
	h, mock, done := newPaymentHandler(t, &fakeGateway{event: completedEvent("cs_1")})
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(paymentSelectForUpdate).WithArgs("cs_1").
		WillReturnRows(paymentRow(7, "cs_1", 495.0, "paid"))
	mock.ExpectExec(paymentMarkPaid).WithArgs("cs_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	c, rec := webhookCtx()
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"already_processed":true`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookBadSignature(t *testing.T) {
	h, mock, done := newPaymentHandler(t, &fakeGateway{err: payment.ErrBadSignature})
	defer done()

	c, rec := webhookCtx()
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid signature")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	ev := &payment.Event{ID: "evt_2", Type: "payment_intent.created"}
	h, mock, done := newPaymentHandler(t, &fakeGateway{event: ev})
	defer done()

	c, rec := webhookCtx()
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
