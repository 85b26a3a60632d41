package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/fridaylabs/token-market/internal/model"
)

// PaymentRepo persists checkout attempts.  The checkout_ref column
// carries a unique constraint, and MarkPaidTx claims a row with a
// conditional update; together they make webhook fulfilment
// idempotent: replaying the same confirmation can never mint twice.
type PaymentRepo struct {
	DB *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{DB: db} }

const paymentColumns = "id, user_id, checkout_ref, amount_eur, minutes, status, created_at, updated_at"

// Create inserts a payment log row in status created.  Inserting the
// same checkout ref twice is treated as success: the row already
// exists and fulfilment will key off it either way.
func (r *PaymentRepo) Create(ctx context.Context, p *model.PaymentLog) error {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO payment_logs (user_id, checkout_ref, amount_eur, minutes, status) VALUES (?,?,?,?,'created')",
		p.UserID, p.CheckoutRef, p.AmountEUR, p.Minutes)
	if err != nil {
		// ER_DUP_ENTRY: the session was already recorded.
		var dup *mysql.MySQLError
		if errors.As(err, &dup) && dup.Number == 1062 {
			return nil
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.Status = model.PaymentStatusCreated
	return nil
}

// LockByRefTx returns the payment log for a checkout ref with a row
// lock held, or sql.ErrNoRows.
func (r *PaymentRepo) LockByRefTx(ctx context.Context, tx *sql.Tx, ref string) (*model.PaymentLog, error) {
	var p model.PaymentLog
	err := tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_logs WHERE checkout_ref = ? FOR UPDATE", ref).
		Scan(&p.ID, &p.UserID, &p.CheckoutRef, &p.AmountEUR, &p.Minutes,
			&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPaidTx flips a created payment to paid.  Returns true when this
// call performed the transition; false means another delivery of the
// same event already claimed it and fulfilment must be skipped.
func (r *PaymentRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, ref string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE payment_logs SET status = 'paid' WHERE checkout_ref = ? AND status = 'created'", ref)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PaymentRepo) scanList(rows *sql.Rows) ([]model.PaymentLog, error) {
	defer rows.Close()
	out := make([]model.PaymentLog, 0)
	for rows.Next() {
		var p model.PaymentLog
		if err := rows.Scan(&p.ID, &p.UserID, &p.CheckoutRef, &p.AmountEUR,
			&p.Minutes, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByUser returns a user's payment history, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.PaymentLog, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, err
	}
	return r.scanList(rows)
}

// ListAll returns every payment log, newest first.  Admin oversight
// only.
func (r *PaymentRepo) ListAll(ctx context.Context) ([]model.PaymentLog, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT " + paymentColumns + " FROM payment_logs ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	return r.scanList(rows)
}
