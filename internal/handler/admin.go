package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/pricing"
	"github.com/fridaylabs/token-market/internal/repository"
)

// maxMintBatch bounds one admin mint request.
const maxMintBatch = 500

// AdminHandler groups the marketplace operator endpoints.  All routes
// using it are mounted behind the RequireAdmin middleware.
type AdminHandler struct {
	Cfg          config.Config
	Tokens       *repository.TokenRepo
	Transactions *repository.TransactionRepo
	Users        *repository.UserRepo
	Payments     *repository.PaymentRepo
	Settings     *repository.SettingsRepo
}

func NewAdminHandler(cfg config.Config, tokens *repository.TokenRepo, txns *repository.TransactionRepo, users *repository.UserRepo, payments *repository.PaymentRepo, settings *repository.SettingsRepo) *AdminHandler {
	if tokens == nil || txns == nil || users == nil || payments == nil || settings == nil {
		panic("nil repository passed to NewAdminHandler")
	}
	return &AdminHandler{Cfg: cfg, Tokens: tokens, Transactions: txns, Users: users, Payments: payments, Settings: settings}
}

// Mint handles POST /v1/admin/tokens/mint.  It creates a batch of
// ownerless inventory tokens for a year.  No ledger entries are
// written here; the purchase entry for each token is appended when the
// token is first assigned to a paying user.
func (h *AdminHandler) Mint(c echo.Context) error {
	var body struct {
		Year     int      `json:"year"`
		Quantity int      `json:"quantity"`
		PriceEUR *float64 `json:"price_eur"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	year := body.Year
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	if year < pricing.BaseYear {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid year"})
	}
	if body.Quantity <= 0 || body.Quantity > maxMintBatch {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be between 1 and 500"})
	}

	ctx := c.Request().Context()
	price := 0.0
	if body.PriceEUR != nil {
		if *body.PriceEUR <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "price_eur must be positive"})
		}
		price = *body.PriceEUR
	} else {
		settings, err := h.Settings.Get(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
		}
		price = pricing.Resolve(settings.CurrentPriceEUR, year)
	}

	tx, err := h.Tokens.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ids := make([]uint64, 0, body.Quantity)
	for i := 0; i < body.Quantity; i++ {
		token := &model.Token{
			IssuedYear:       year,
			MinutesRemaining: model.TokenMinutes,
			Status:           model.TokenStatusActive,
			OriginalPriceEUR: price,
		}
		if err := h.Tokens.CreateTx(ctx, tx, token); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mint tokens"})
		}
		ids = append(ids, token.ID)
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusCreated, echo.Map{
		"minted":    len(ids),
		"token_ids": ids,
		"year":      year,
		"price_eur": price,
	})
}

// SetPrice handles POST /v1/admin/price.  The stored price overrides
// the year formula for every purchase until changed.
func (h *AdminHandler) SetPrice(c echo.Context) error {
	var body struct {
		PriceEUR float64 `json:"price_eur"`
	}
	if err := c.Bind(&body); err != nil || body.PriceEUR <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "price_eur must be positive"})
	}
	if err := h.Settings.SetCurrentPrice(c.Request().Context(), body.PriceEUR); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to save price"})
	}
	return c.JSON(http.StatusOK, echo.Map{"current_price_eur": body.PriceEUR})
}

// ListUsers handles GET /v1/admin/users.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	users, err := h.Users.ListAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load users"})
	}
	items := make([]echo.Map, 0, len(users))
	for _, u := range users {
		items = append(items, echo.Map{
			"id":           u.ID,
			"email":        u.Email,
			"display_name": u.DisplayName,
			"role":         u.Role,
			"is_active":    u.IsActive,
			"created_at":   u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListPayments handles GET /v1/admin/payments.
func (h *AdminHandler) ListPayments(c echo.Context) error {
	logs, err := h.Payments.ListAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load payments"})
	}
	items := make([]echo.Map, 0, len(logs))
	for _, p := range logs {
		items = append(items, echo.Map{
			"id":           p.ID,
			"user_id":      p.UserID,
			"checkout_ref": p.CheckoutRef,
			"amount_eur":   p.AmountEUR,
			"minutes":      p.Minutes,
			"status":       p.Status,
			"created_at":   p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListTransactions handles GET /v1/admin/transactions?limit=.
func (h *AdminHandler) ListTransactions(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}
	entries, err := h.Transactions.ListAll(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load transactions"})
	}
	items := make([]echo.Map, 0, len(entries))
	for _, t := range entries {
		items = append(items, echo.Map{
			"id":            t.ID,
			"user_id":       t.UserID,
			"type":          t.Type,
			"amount_eur":    t.AmountEUR,
			"seconds_delta": t.SecondsDelta,
			"note":          t.Note,
			"created_at":    t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// PurgeTokens handles DELETE /v1/admin/users/:id/tokens.  It removes
// every token the user owns.
func (h *AdminHandler) PurgeTokens(c echo.Context) error {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	deleted, err := h.Tokens.DeleteByOwner(c.Request().Context(), targetID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to purge tokens"})
	}
	adminID, _ := getUserID(c)
	log.Printf("admin: user %d purged %d tokens of user %d", adminID, deleted, targetID)
	return c.JSON(http.StatusOK, echo.Map{"deleted": deleted})
}

// ClearTransactions handles DELETE /v1/admin/users/:id/transactions.
// This is the one sanctioned mutation of ledger history; it is logged
// and irreversible.
func (h *AdminHandler) ClearTransactions(c echo.Context) error {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	cleared, err := h.Transactions.ClearByUser(c.Request().Context(), targetID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to clear transactions"})
	}
	adminID, _ := getUserID(c)
	log.Printf("admin: user %d cleared %d ledger entries of user %d", adminID, cleared, targetID)
	return c.JSON(http.StatusOK, echo.Map{"cleared": cleared})
}
