package handler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/payment"
	"github.com/fridaylabs/token-market/internal/pricing"
	"github.com/fridaylabs/token-market/internal/repository"
)

// CheckoutGateway is the payment-provider boundary.  The Stripe client
// implements it; tests substitute a fake.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, userID uint64, minutes uint32, priceEUR float64) (*payment.CheckoutSession, error)
	VerifyWebhook(payload []byte, sigHeader string) (*payment.Event, error)
}

// PaymentHandler implements card purchases through a hosted checkout.
// A checkout opens a payment_logs row in status created; fulfilment
// happens only on the signed completion webhook, where a conditional
// status flip guarantees a replayed event mints nothing twice.
type PaymentHandler struct {
	Cfg          config.Config
	Gateway      CheckoutGateway
	Payments     *repository.PaymentRepo
	Tokens       *repository.TokenRepo
	Transactions *repository.TransactionRepo
	Settings     *repository.SettingsRepo
}

func NewPaymentHandler(cfg config.Config, gw CheckoutGateway, payments *repository.PaymentRepo, tokens *repository.TokenRepo, txns *repository.TransactionRepo, settings *repository.SettingsRepo) *PaymentHandler {
	if payments == nil || tokens == nil || txns == nil || settings == nil {
		panic("nil repository passed to NewPaymentHandler")
	}
	return &PaymentHandler{Cfg: cfg, Gateway: gw, Payments: payments, Tokens: tokens, Transactions: txns, Settings: settings}
}

// Checkout handles POST /v1/payments/checkout.  It opens a hosted
// checkout session for one token at the resolved price and records the
// pending payment.  503 when no payment gateway is configured.
func (h *PaymentHandler) Checkout(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if h.Gateway == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payments not configured"})
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

	sess, err := h.Gateway.CreateCheckoutSession(ctx, userID, model.TokenMinutes, price)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "checkout session failed"})
	}
	log := &model.PaymentLog{
		UserID:      userID,
		CheckoutRef: sess.ID,
		AmountEUR:   price,
		Minutes:     model.TokenMinutes,
		Status:      model.PaymentStatusCreated,
	}
	if err := h.Payments.Create(ctx, log); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record payment"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"checkout_ref": sess.ID,
		"checkout_url": sess.URL,
		"amount_eur":   price,
		"minutes":      model.TokenMinutes,
	})
}

// Webhook handles POST /v1/payments/webhook.  The raw body is verified
// against the gateway signature before anything is trusted.  On
// checkout.session.completed the payment row is claimed with a
// conditional created→paid update; only the claiming request mints the
// token and appends the purchase ledger entry.  Replays are answered
// 200 without side effects so the gateway stops retrying.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	if h.Gateway == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payments not configured"})
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	event, err := h.Gateway.VerifyWebhook(body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}
	if event.Type != "checkout.session.completed" {
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}
	ref := event.Data.Object.ID
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing checkout session id"})
	}

	ctx := c.Request().Context()
	tx, err := h.Payments.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	log, err := h.Payments.LockByRefTx(ctx, tx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown checkout_ref"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock payment"})
	}
	claimed, err := h.Payments.MarkPaidTx(ctx, tx, ref)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update payment"})
	}
	if !claimed {
		// replayed event; the first delivery already fulfilled it
		return c.JSON(http.StatusOK, echo.Map{"received": true, "already_processed": true})
	}

	year := time.Now().UTC().Year()
	token, err := h.Tokens.LockUnassignedTx(ctx, tx, year)
	switch {
	case err == nil:
		// assign a pre-minted inventory token to the payer
		if err := h.Tokens.TransferTx(ctx, tx, token.ID, log.UserID); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to assign token"})
		}
	case errors.Is(err, sql.ErrNoRows):
		// no inventory left; mint fresh
		token = &model.Token{
			OwnerUserID:      &log.UserID,
			IssuedYear:       year,
			MinutesRemaining: log.Minutes,
			Status:           model.TokenStatusActive,
			OriginalPriceEUR: log.AmountEUR,
		}
		if err := h.Tokens.CreateTx(ctx, tx, token); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mint token"})
		}
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock inventory"})
	}

	entry := &model.Transaction{
		UserID:       log.UserID,
		Type:         model.TxTypePurchase,
		AmountEUR:    log.AmountEUR,
		SecondsDelta: int64(log.Minutes) * 60,
		Note:         "checkout " + ref,
	}
	if err := h.Transactions.AppendTx(ctx, tx, entry); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record purchase"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{"received": true, "token_id": token.ID})
}

type paymentView struct {
	ID          uint64  `json:"id"`
	CheckoutRef string  `json:"checkout_ref"`
	AmountEUR   float64 `json:"amount_eur"`
	Minutes     uint32  `json:"minutes"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

func viewPayment(p *model.PaymentLog) paymentView {
	return paymentView{
		ID:          p.ID,
		CheckoutRef: p.CheckoutRef,
		AmountEUR:   p.AmountEUR,
		Minutes:     p.Minutes,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// History handles GET /v1/payments and returns the caller's payment
// attempts, newest first.
func (h *PaymentHandler) History(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	logs, err := h.Payments.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load payments"})
	}
	items := make([]paymentView, 0, len(logs))
	for i := range logs {
		items = append(items, viewPayment(&logs[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
