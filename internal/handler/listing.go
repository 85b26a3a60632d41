package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/repository"
)

// ListingHandler implements the secondary market: sellers list their
// tokens, buyers purchase them.  Every state change runs inside one DB
// transaction with the affected rows locked, so two concurrent buyers
// of the same listing resolve to exactly one sale.
type ListingHandler struct {
	Cfg          config.Config
	Listings     *repository.ListingRepo
	Tokens       *repository.TokenRepo
	Transactions *repository.TransactionRepo
}

func NewListingHandler(cfg config.Config, listings *repository.ListingRepo, tokens *repository.TokenRepo, txns *repository.TransactionRepo) *ListingHandler {
	if listings == nil || tokens == nil || txns == nil {
		panic("nil repository passed to NewListingHandler")
	}
	return &ListingHandler{Cfg: cfg, Listings: listings, Tokens: tokens, Transactions: txns}
}

// Create handles POST /v1/listings.  The token must belong to the
// caller, be active and still hold minutes; creation flips the token to
// listed, which is what enforces at most one open listing per token.
func (h *ListingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TokenID  uint64  `json:"token_id"`
		PriceEUR float64 `json:"price_eur"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.TokenID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token_id is required"})
	}
	if body.PriceEUR <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "price_eur must be positive"})
	}

	ctx := c.Request().Context()
	tx, err := h.Listings.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	token, err := h.Tokens.LockByIDTx(ctx, tx, body.TokenID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "token not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock token"})
	}
	if token.OwnerUserID == nil || *token.OwnerUserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your token"})
	}
	if token.Status != model.TokenStatusActive {
		return c.JSON(http.StatusConflict, echo.Map{"error": "token is not active"})
	}
	if token.MinutesRemaining == 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "token has no minutes left"})
	}

	listing := &model.Listing{
		TokenID:      token.ID,
		SellerUserID: userID,
		PriceEUR:     body.PriceEUR,
	}
	if err := h.Listings.CreateTx(ctx, tx, listing); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create listing"})
	}
	if err := h.Tokens.UpdateStatusTx(ctx, tx, token.ID, model.TokenStatusListed); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update token status"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusCreated, echo.Map{
		"listing_id": listing.ID,
		"token_id":   listing.TokenID,
		"price_eur":  listing.PriceEUR,
		"status":     listing.Status,
	})
}

// Cancel handles POST /v1/listings/:id/cancel.  Only the seller may
// cancel, only while the listing is open; the token returns to active.
func (h *ListingHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	listingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || listingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid listing id"})
	}

	ctx := c.Request().Context()
	tx, err := h.Listings.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	listing, err := h.Listings.LockByIDTx(ctx, tx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock listing"})
	}
	if listing.SellerUserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your listing"})
	}
	if err := h.Listings.CloseTx(ctx, tx, listingID, model.ListingStatusCancelled); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "listing is not open"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to close listing"})
	}
	if err := h.Tokens.UpdateStatusTx(ctx, tx, listing.TokenID, model.TokenStatusActive); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update token status"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{
		"listing_id": listingID,
		"status":     model.ListingStatusCancelled,
	})
}

// Buy handles POST /v1/listings/:id/buy.  In one transaction it closes
// the listing as sold, transfers the token to the buyer and appends the
// two ledger entries: the buyer's trade_buy at the asking price and the
// seller's trade_sell at the price minus the marketplace fee.  A
// concurrent buyer losing the race on the conditional close gets 409.
func (h *ListingHandler) Buy(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	listingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || listingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid listing id"})
	}

	ctx := c.Request().Context()
	tx, err := h.Listings.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	listing, err := h.Listings.LockByIDTx(ctx, tx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock listing"})
	}
	if listing.Status != model.ListingStatusOpen {
		return c.JSON(http.StatusConflict, echo.Map{"error": "listing is not open"})
	}
	if listing.SellerUserID == userID {
		return c.JSON(http.StatusConflict, echo.Map{"error": "cannot buy your own listing"})
	}

	token, err := h.Tokens.LockByIDTx(ctx, tx, listing.TokenID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock token"})
	}
	if token.MinutesRemaining == 0 || token.Status == model.TokenStatusSpent {
		return c.JSON(http.StatusConflict, echo.Map{"error": "token has no minutes left"})
	}

	if err := h.Listings.CloseTx(ctx, tx, listingID, model.ListingStatusSold); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "listing is not open"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to close listing"})
	}
	if err := h.Tokens.TransferTx(ctx, tx, token.ID, userID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to transfer token"})
	}

	fee := math.Round(listing.PriceEUR*h.Cfg.MarketFeePct) / 100
	buyEntry := &model.Transaction{
		UserID:       userID,
		Type:         model.TxTypeTradeBuy,
		AmountEUR:    listing.PriceEUR,
		SecondsDelta: 0,
		Note:         "marketplace purchase",
	}
	if err := h.Transactions.AppendTx(ctx, tx, buyEntry); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record purchase"})
	}
	sellEntry := &model.Transaction{
		UserID:       listing.SellerUserID,
		Type:         model.TxTypeTradeSell,
		AmountEUR:    math.Round((listing.PriceEUR-fee)*100) / 100,
		SecondsDelta: 0,
		Note:         "marketplace sale",
	}
	if err := h.Transactions.AppendTx(ctx, tx, sellEntry); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record sale"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{
		"listing_id":     listingID,
		"token_id":       token.ID,
		"price_eur":      listing.PriceEUR,
		"fee_eur":        fee,
		"seller_net_eur": sellEntry.AmountEUR,
	})
}
