package model

import "time"

// Payment log statuses.  A row is created when a checkout session is
// opened and marked paid exactly once when the gateway confirms it.
const (
	PaymentStatusCreated = "created"
	PaymentStatusPaid    = "paid"
)

// PaymentLog records one hosted-checkout attempt in the
// `payment_logs` table.  CheckoutRef is the gateway's session
// identifier and carries a unique constraint; the webhook marks the
// row paid with a conditional update so a replayed confirmation event
// can never mint tokens twice.
//
// Fields:
//  ID          – primary key identifier.
//  UserID      – the paying user.
//  CheckoutRef – unique gateway session id.
//  AmountEUR   – amount charged.
//  Minutes     – minutes purchased; drives fulfilment.
//  Status      – created or paid.
//  CreatedAt   – when the session was opened.
//  UpdatedAt   – last status change.
type PaymentLog struct {
	ID          uint64    // payment_logs.id
	UserID      uint64    // payment_logs.user_id
	CheckoutRef string    // payment_logs.checkout_ref (unique)
	AmountEUR   float64   // payment_logs.amount_eur
	Minutes     uint32    // payment_logs.minutes
	Status      string    // payment_logs.status
	CreatedAt   time.Time // payment_logs.created_at
	UpdatedAt   time.Time // payment_logs.updated_at
}
