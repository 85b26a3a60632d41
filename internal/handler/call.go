package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fridaylabs/token-market/internal/model"
	"github.com/fridaylabs/token-market/internal/queue"
	"github.com/fridaylabs/token-market/internal/repository"
)

// CallHandler tracks call sessions.  Starting a call reserves nothing:
// it only verifies the caller can pay (an active token with minutes)
// and the callee can be reached, then records the session and rings
// the callee asynchronously.  Billing happens once, at call end, from
// server-observed elapsed time.
type CallHandler struct {
	Calls        *repository.CallRepo
	Tokens       *repository.TokenRepo
	Devices      *repository.DeviceRepo
	Users        *repository.UserRepo
	Transactions *repository.TransactionRepo

	// Publish dispatches the call.initiated event.  Swappable in tests;
	// defaults to the RabbitMQ publisher.
	Publish func(ctx context.Context, event queue.CallInitiatedEvent) error
}

func NewCallHandler(calls *repository.CallRepo, tokens *repository.TokenRepo, devices *repository.DeviceRepo, users *repository.UserRepo, txns *repository.TransactionRepo) *CallHandler {
	if calls == nil || tokens == nil || devices == nil || users == nil || txns == nil {
		panic("nil repository passed to NewCallHandler")
	}
	return &CallHandler{
		Calls:        calls,
		Tokens:       tokens,
		Devices:      devices,
		Users:        users,
		Transactions: txns,
		Publish:      queue.PublishCallInitiated,
	}
}

type callView struct {
	ID              string  `json:"id"`
	CallerUserID    uint64  `json:"caller_user_id"`
	CalleeUserID    uint64  `json:"callee_user_id"`
	TokenID         uint64  `json:"token_id"`
	StartedAt       string  `json:"started_at"`
	EndedAt         *string `json:"ended_at,omitempty"`
	DurationSeconds uint32  `json:"duration_seconds"`
}

func viewCall(s *model.CallSession) callView {
	v := callView{
		ID:              s.ID,
		CallerUserID:    s.CallerUserID,
		CalleeUserID:    s.CalleeUserID,
		TokenID:         s.TokenID,
		StartedAt:       s.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds: s.DurationSeconds,
	}
	if s.EndedAt != nil {
		ended := s.EndedAt.UTC().Format(time.RFC3339)
		v.EndedAt = &ended
	}
	return v
}

// Start handles POST /v1/calls/start.  Requirements: the callee has a
// registered push destination, the caller has no call in progress and
// holds an active token with minutes.  The push dispatch happens after
// commit and is fire-and-forget; its failure never fails the call.
func (h *CallHandler) Start(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		CalleeUserID uint64 `json:"callee_user_id"`
	}
	if err := c.Bind(&body); err != nil || body.CalleeUserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "callee_user_id is required"})
	}
	if body.CalleeUserID == userID {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot call yourself"})
	}

	ctx := c.Request().Context()
	if _, err := h.Users.GetByID(ctx, body.CalleeUserID); err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "callee not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load callee failed"})
	}
	device, err := h.Devices.GetByUser(ctx, body.CalleeUserID)
	if err != nil && err != sql.ErrNoRows {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load device failed"})
	}
	if !device.Reachable() {
		return c.JSON(http.StatusConflict, echo.Map{"error": "callee has no registered device"})
	}

	tx, err := h.Calls.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := h.Calls.LockActiveByCallerTx(ctx, tx, userID); err == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a call is already in progress"})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check active calls"})
	}

	token, err := h.Tokens.LockOldestActiveTx(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveToken) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "no active tokens available"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock token"})
	}

	session := &model.CallSession{
		ID:           uuid.NewString(),
		CallerUserID: userID,
		CalleeUserID: body.CalleeUserID,
		TokenID:      token.ID,
		StartedAt:    time.Now().UTC(),
	}
	if err := h.Calls.CreateTx(ctx, tx, session); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create call session"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	if h.Publish != nil {
		caller, callerErr := h.Users.GetByID(ctx, userID)
		callerName := ""
		if callerErr == nil {
			callerName = caller.DisplayName
		}
		deviceToken := ""
		if device.VoIPToken != nil && *device.VoIPToken != "" {
			deviceToken = *device.VoIPToken
		} else if device.APNsToken != nil {
			deviceToken = *device.APNsToken
		}
		event := queue.CallInitiatedEvent{
			CallID:       session.ID,
			CallerUserID: userID,
			CallerName:   callerName,
			CalleeUserID: body.CalleeUserID,
			DeviceToken:  deviceToken,
			StartedAt:    session.StartedAt.Format(time.RFC3339),
		}
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = h.Publish(pctx, event)
		}()
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"call":                    viewCall(session),
		"token_minutes_remaining": token.MinutesRemaining,
	})
}

// End handles POST /v1/calls/:id/end.  It is idempotent: the first end
// wins, computes the server-observed duration, decrements the token
// and appends the call_usage ledger entry in one transaction; any
// later end sees the session already closed and returns the recorded
// result without charging again.
func (h *CallHandler) End(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	callID := c.Param("id")
	if callID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid call id"})
	}

	ctx := c.Request().Context()
	tx, err := h.Calls.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	session, err := h.Calls.LockByIDTx(ctx, tx, callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "call not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock call"})
	}
	if session.CallerUserID != userID && session.CalleeUserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if session.EndedAt != nil {
		// already ended; report the recorded outcome without charging
		return c.JSON(http.StatusOK, echo.Map{
			"call":          viewCall(session),
			"already_ended": true,
		})
	}

	endedAt := time.Now().UTC()
	elapsed := endedAt.Sub(session.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := uint32(elapsed / time.Second)
	minutes := seconds / 60

	if err := h.Calls.EndTx(ctx, tx, callID, endedAt, seconds); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusOK, echo.Map{
				"call":          viewCall(session),
				"already_ended": true,
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to end call"})
	}
	session.EndedAt = &endedAt
	session.DurationSeconds = seconds

	charged := uint32(0)
	remaining := uint32(0)
	if minutes > 0 {
		token, err := h.Tokens.LockByIDTx(ctx, tx, session.TokenID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock token"})
		}
		charged = minutes
		if charged > token.MinutesRemaining {
			charged = token.MinutesRemaining
		}
		remaining, err = h.Tokens.DecrementMinutesTx(ctx, tx, token, minutes)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to decrement token"})
		}
		entry := &model.Transaction{
			UserID:       session.CallerUserID,
			Type:         model.TxTypeCallUsage,
			AmountEUR:    0,
			SecondsDelta: -int64(charged) * 60,
			Note:         "call " + session.ID,
		}
		if err := h.Transactions.AppendTx(ctx, tx, entry); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record usage"})
		}
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{
		"call":              viewCall(session),
		"minutes_charged":   charged,
		"minutes_remaining": remaining,
	})
}

// Log handles GET /v1/calls and returns the user's call history, as
// caller or callee, newest first.
func (h *CallHandler) Log(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessions, err := h.Calls.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load calls"})
	}
	items := make([]callView, 0, len(sessions))
	for i := range sessions {
		items = append(items, viewCall(&sessions[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Active handles GET /v1/calls/active.  Returns the caller's call in
// progress, or null when there is none.
func (h *CallHandler) Active(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	session, err := h.Calls.ActiveByCaller(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusOK, echo.Map{"call": nil})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load call"})
	}
	return c.JSON(http.StatusOK, echo.Map{"call": viewCall(session)})
}
