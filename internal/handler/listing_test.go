package handler

import (
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
	"github.com/fridaylabs/token-market/internal/repository"
)

const (
	listingSelectForUpdate = "SELECT id, token_id, seller_user_id, price_eur, status, created_at, closed_at FROM listings WHERE id = ? FOR UPDATE"
	tokenSelectForUpdate   = "SELECT id, owner_user_id, issued_year, minutes_remaining, status, original_price_eur, created_at, updated_at FROM tokens WHERE id = ? FOR UPDATE"
	listingCloseUpdate     = "UPDATE listings SET status = ?, closed_at = NOW() WHERE id = ? AND status = 'open'"
	tokenTransferUpdate    = "UPDATE tokens SET owner_user_id = ?, status = 'active' WHERE id = ?"
	ledgerInsert           = "INSERT INTO transactions (user_id, type, amount_eur, seconds_delta, note) VALUES (?,?,?,?,?)"
)

func newListingHandler(t *testing.T) (*ListingHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	h := NewListingHandler(
		config.Config{MarketFeePct: 5},
		repository.NewListingRepo(db),
		repository.NewTokenRepo(db),
		repository.NewTransactionRepo(db),
	)
	return h, mock, func() { db.Close() }
}

func listingRow(id, tokenID, sellerID uint64, price float64, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "token_id", "seller_user_id", "price_eur", "status", "created_at", "closed_at"}).
		AddRow(id, tokenID, sellerID, price, status, time.Now().UTC(), nil)
}

func tokenRow(id uint64, owner interface{}, minutes uint32, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "owner_user_id", "issued_year", "minutes_remaining", "status", "original_price_eur", "created_at", "updated_at"}).
		AddRow(id, owner, 2026, minutes, status, 495.0, now, now)
}

func listingCtx(method, target, body string, userID uint64, listingID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	if listingID != "" {
		c.SetParamNames("id")
		c.SetParamValues(listingID)
	}
	return c, rec
}

func TestBuyListing(t *testing.T) {
	h, mock, done := newListingHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(listingSelectForUpdate).WithArgs(uint64(5)).
		WillReturnRows(listingRow(5, 3, 1, 100, "open"))
	mock.ExpectQuery(tokenSelectForUpdate).WithArgs(uint64(3)).
		WillReturnRows(tokenRow(3, 1, 60, "listed"))
	mock.ExpectExec(listingCloseUpdate).WithArgs("sold", uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(tokenTransferUpdate).WithArgs(uint64(2), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(ledgerInsert).
		WithArgs(uint64(2), "trade_buy", 100.0, int64(0), "marketplace purchase").
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(ledgerInsert).
		WithArgs(uint64(1), "trade_sell", 95.0, int64(0), "marketplace sale").
		WillReturnResult(sqlmock.NewResult(22, 1))
	mock.ExpectCommit()

	c, rec := listingCtx(http.MethodPost, "/v1/listings/5/buy", "", 2, "5")
	require.NoError(t, h.Buy(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"seller_net_eur":95`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuyListingAlreadyClosed(t *testing.T) {
	h, mock, done := newListingHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(listingSelectForUpdate).WithArgs(uint64(5)).
		WillReturnRows(listingRow(5, 3, 1, 100, "sold"))
	mock.ExpectRollback()

	c, rec := listingCtx(http.MethodPost, "/v1/listings/5/buy", "", 2, "5")
	require.NoError(t, h.Buy(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "listing is not open")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuyOwnListing(t *testing.T) {
	h, mock, done := newListingHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(listingSelectForUpdate).WithArgs(uint64(5)).
		WillReturnRows(listingRow(5, 3, 2, 100, "open"))
	mock.ExpectRollback()

	c, rec := listingCtx(http.MethodPost, "/v1/listings/5/buy", "", 2, "5")
	require.NoError(t, h.Buy(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelListingNotSeller(t *testing.T) {
	h, mock, done := newListingHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(listingSelectForUpdate).WithArgs(uint64(5)).
		WillReturnRows(listingRow(5, 3, 1, 100, "open"))
	mock.ExpectRollback()

	c, rec := listingCtx(http.MethodPost, "/v1/listings/5/cancel", "", 2, "5")
	require.NoError(t, h.Cancel(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateListingNotOwner(t *testing.T) {
	h, mock, done := newListingHandler(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(tokenSelectForUpdate).WithArgs(uint64(3)).
		WillReturnRows(tokenRow(3, 9, 60, "active"))
	mock.ExpectRollback()

	c, rec := listingCtx(http.MethodPost, "/v1/listings", `{"token_id":3,"price_eur":50}`, 2, "")
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
