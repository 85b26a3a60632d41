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
	settingsSelect   = "SELECT id, current_price_eur, updated_at FROM settings WHERE id = 1"
	tokenCountActive = "SELECT COUNT(*) FROM tokens WHERE owner_user_id = ? AND status = 'active'"
	tokenInsert      = "INSERT INTO tokens (owner_user_id, issued_year, minutes_remaining, status, original_price_eur) VALUES (?,?,?,?,?)"
	tokenSelectByID  = "SELECT id, owner_user_id, issued_year, minutes_remaining, status, original_price_eur, created_at, updated_at FROM tokens WHERE id = ?"
)

func newTokenHandler(t *testing.T) (*TokenHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	h := NewTokenHandler(
		config.Config{},
		repository.NewTokenRepo(db),
		repository.NewTransactionRepo(db),
		repository.NewSettingsRepo(db),
	)
	return h, mock, func() { db.Close() }
}

func emptySettingsRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "current_price_eur", "updated_at"}).
		AddRow(1, nil, time.Now().UTC())
}

func tokenCtx(body string, userID uint64) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	return c, rec
}

func TestCreateToken(t *testing.T) {
	h, mock, done := newTokenHandler(t)
	defer done()

	mock.ExpectQuery(settingsSelect).WillReturnRows(emptySettingsRow())
	mock.ExpectBegin()
	mock.ExpectQuery(tokenCountActive).WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	// no price override, so 2026 resolves through the formula to 495
	mock.ExpectExec(tokenInsert).
		WithArgs(uint64(2), 2026, uint32(60), "active", 495.0).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(tokenSelectByID).WithArgs(uint64(7)).
		WillReturnRows(tokenRow(7, 2, 60, "active"))
	mock.ExpectExec(ledgerInsert).
		WithArgs(uint64(2), "purchase", 495.0, int64(3600), "direct token purchase").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	c, rec := tokenCtx(`{"year":2026}`, 2)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"minutes_remaining":60`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTokenCapReached(t *testing.T) {
	h, mock, done := newTokenHandler(t)
	defer done()

	mock.ExpectQuery(settingsSelect).WillReturnRows(emptySettingsRow())
	mock.ExpectBegin()
	mock.ExpectQuery(tokenCountActive).WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(20))
	mock.ExpectRollback()

	c, rec := tokenCtx(`{"year":2026}`, 2)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "active token limit reached")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTokenRejectsPreBaseYear(t *testing.T) {
	h, mock, done := newTokenHandler(t)
	defer done()

	c, rec := tokenCtx(`{"year":2019}`, 2)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
