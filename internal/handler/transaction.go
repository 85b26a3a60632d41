package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/repository"
)

// TransactionHandler exposes the ledger: per-user history, recent
// activity and the authoritative balance derived from ledger sums.
type TransactionHandler struct {
	Transactions *repository.TransactionRepo
}

func NewTransactionHandler(txns *repository.TransactionRepo) *TransactionHandler {
	if txns == nil {
		panic("nil repository passed to NewTransactionHandler")
	}
	return &TransactionHandler{Transactions: txns}
}

type transactionView struct {
	ID           uint64  `json:"id"`
	Type         string  `json:"type"`
	AmountEUR    float64 `json:"amount_eur"`
	SecondsDelta int64   `json:"seconds_delta"`
	MinutesDelta float64 `json:"minutes_delta"`
	Note         string  `json:"note"`
	CreatedAt    string  `json:"created_at"`
}

func viewTransaction(t *model.Transaction) transactionView {
	return transactionView{
		ID:           t.ID,
		Type:         t.Type,
		AmountEUR:    t.AmountEUR,
		SecondsDelta: t.SecondsDelta,
		MinutesDelta: float64(t.SecondsDelta) / 60,
		Note:         t.Note,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List handles GET /v1/transactions and returns the caller's full
// ledger history, newest first.
func (h *TransactionHandler) List(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	entries, err := h.Transactions.ListByUser(c.Request().Context(), userID, 0)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load transactions"})
	}
	items := make([]transactionView, 0, len(entries))
	for i := range entries {
		items = append(items, viewTransaction(&entries[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Recent handles GET /v1/transactions/recent?limit=.  Limit defaults
// to 10 and is capped at 100.
func (h *TransactionHandler) Recent(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}
	entries, err := h.Transactions.ListByUser(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load transactions"})
	}
	items := make([]transactionView, 0, len(entries))
	for i := range entries {
		items = append(items, viewTransaction(&entries[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Balance handles GET /v1/transactions/balance.  The balance comes
// from the ledger sums alone, never from cached token fields.
func (h *TransactionHandler) Balance(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	balance, err := h.Transactions.BalanceMinutes(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to compute balance"})
	}
	return c.JSON(http.StatusOK, balance)
}
