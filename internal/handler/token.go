package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/pricing"
	"github.com/fridaylabs/token-market/internal/repository"
)

// TokenHandler serves direct token purchases and the owner's token
// inventory.  Purchases here are balance-free direct mints (card
// payments go through the payments flow); both paths share the same
// pricing and ledger rules.
type TokenHandler struct {
	Cfg          config.Config
	Tokens       *repository.TokenRepo
	Transactions *repository.TransactionRepo
	Settings     *repository.SettingsRepo
}

func NewTokenHandler(cfg config.Config, tokens *repository.TokenRepo, txns *repository.TransactionRepo, settings *repository.SettingsRepo) *TokenHandler {
	if tokens == nil || txns == nil || settings == nil {
		panic("nil repository passed to NewTokenHandler")
	}
	return &TokenHandler{Cfg: cfg, Tokens: tokens, Transactions: txns, Settings: settings}
}

// tokenView is the JSON shape tokens are returned in.
type tokenView struct {
	ID               uint64  `json:"id"`
	OwnerUserID      *uint64 `json:"owner_user_id,omitempty"`
	IssuedYear       int     `json:"issued_year"`
	MinutesRemaining uint32  `json:"minutes_remaining"`
	Status           string  `json:"status"`
	OriginalPriceEUR float64 `json:"original_price_eur"`
	CreatedAt        string  `json:"created_at"`
}

func viewToken(t *model.Token) tokenView {
	return tokenView{
		ID:               t.ID,
		OwnerUserID:      t.OwnerUserID,
		IssuedYear:       t.IssuedYear,
		MinutesRemaining: t.MinutesRemaining,
		Status:           t.Status,
		OriginalPriceEUR: t.OriginalPriceEUR,
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create handles POST /v1/tokens.  It mints one 60-minute token to the
// authenticated user at the resolved price for the requested year and
// appends the matching purchase ledger entry in the same transaction.
// Users holding the maximum number of active tokens get a 409.
func (h *TokenHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Year int `json:"year"`
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

	ctx := c.Request().Context()
	settings, err := h.Settings.Get(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
	}
	price := pricing.Resolve(settings.CurrentPriceEUR, year)

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

	active, err := h.Tokens.CountActiveByOwnerTx(ctx, tx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to count tokens"})
	}
	if active >= model.MaxActiveTokensPerUser {
		return c.JSON(http.StatusConflict, echo.Map{"error": "active token limit reached"})
	}

	token := &model.Token{
		OwnerUserID:      &userID,
		IssuedYear:       year,
		MinutesRemaining: model.TokenMinutes,
		Status:           model.TokenStatusActive,
		OriginalPriceEUR: price,
	}
	if err := h.Tokens.CreateTx(ctx, tx, token); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create token"})
	}
	entry := &model.Transaction{
		UserID:       userID,
		Type:         model.TxTypePurchase,
		AmountEUR:    price,
		SecondsDelta: int64(model.TokenMinutes) * 60,
		Note:         "direct token purchase",
	}
	if err := h.Transactions.AppendTx(ctx, tx, entry); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record purchase"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusCreated, echo.Map{"token": viewToken(token)})
}

// List handles GET /v1/tokens and returns the caller's tokens, newest
// first.
func (h *TokenHandler) List(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tokens, err := h.Tokens.ListByOwner(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load tokens"})
	}
	items := make([]tokenView, 0, len(tokens))
	for i := range tokens {
		items = append(items, viewToken(&tokens[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Spend handles POST /v1/tokens/spend.  It deducts minutes from the
// caller's oldest active token (clamped at the token's balance) and
// appends the matching call_usage ledger entry.  409 when the caller
// has no active token with minutes left.
func (h *TokenHandler) Spend(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Minutes uint32 `json:"minutes"`
	}
	if err := c.Bind(&body); err != nil || body.Minutes == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "minutes must be positive"})
	}

	ctx := c.Request().Context()
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

	token, err := h.Tokens.LockOldestActiveTx(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveToken) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "no active tokens available"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock token"})
	}
	spent := body.Minutes
	if spent > token.MinutesRemaining {
		spent = token.MinutesRemaining
	}
	remaining, err := h.Tokens.DecrementMinutesTx(ctx, tx, token, body.Minutes)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to decrement token"})
	}
	entry := &model.Transaction{
		UserID:       userID,
		Type:         model.TxTypeCallUsage,
		AmountEUR:    0,
		SecondsDelta: -int64(spent) * 60,
		Note:         "manual minute spend",
	}
	if err := h.Transactions.AppendTx(ctx, tx, entry); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record usage"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{
		"token_id":          token.ID,
		"minutes_spent":     spent,
		"minutes_remaining": remaining,
		"status":            token.Status,
	})
}
