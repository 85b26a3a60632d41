package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fridaylabs/token-market/internal/model"
)

// TransactionRepo persists the append-only ledger.  Append is the only
// mutation; entries are never updated, and only the explicit admin
// bulk-clear removes them.  Balances are always derived by summing
// seconds_delta here rather than trusting cached token fields.
type TransactionRepo struct {
	DB *sql.DB
}

// NewTransactionRepo returns a new TransactionRepo bound to the given
// database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{DB: db} }

const txColumns = "id, user_id, type, amount_eur, seconds_delta, note, created_at"

// AppendTx inserts a ledger entry within an existing transaction so
// the entry commits atomically with the state change it records.
func (r *TransactionRepo) AppendTx(ctx context.Context, tx *sql.Tx, e *model.Transaction) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO transactions (user_id, type, amount_eur, seconds_delta, note) VALUES (?,?,?,?,?)",
		e.UserID, e.Type, e.AmountEUR, e.SecondsDelta, e.Note)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

func (r *TransactionRepo) scanList(rows *sql.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		var e model.Transaction
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.AmountEUR,
			&e.SecondsDelta, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByUser returns a user's ledger entries, newest first.  A limit
// of zero means no limit.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	args := []interface{}{userID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return r.scanList(rows)
}

// ListAll returns every ledger entry, newest first.  Admin oversight
// only.
func (r *TransactionRepo) ListAll(ctx context.Context, limit int) ([]model.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions ORDER BY created_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return r.scanList(rows)
}

// SumSeconds returns the sum of seconds_delta for a user, optionally
// restricted to the given entry types.
func (r *TransactionRepo) SumSeconds(ctx context.Context, userID uint64, types ...string) (int64, error) {
	q := "SELECT COALESCE(SUM(seconds_delta), 0) FROM transactions WHERE user_id = ?"
	args := []interface{}{userID}
	if len(types) > 0 {
		q += " AND type IN (?" + strings.Repeat(",?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	var sum int64
	err := r.DB.QueryRowContext(ctx, q, args...).Scan(&sum)
	return sum, err
}

// Balance is the reconciled minute balance of one user, derived
// entirely from the ledger.
type Balance struct {
	BoughtMinutes    float64 `json:"bought_minutes"`
	SpentMinutes     float64 `json:"spent_minutes"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

// BalanceMinutes computes a user's authoritative balance: bought
// aggregates purchase and trade_buy entries, spent aggregates the
// absolute value of trade_sell and call_usage entries, and remaining
// is bought minus spent clamped at zero.  Where this disagrees with a
// cached per-token minutes_remaining, the ledger wins.
func (r *TransactionRepo) BalanceMinutes(ctx context.Context, userID uint64) (Balance, error) {
	var boughtSec, spentSec float64
	err := r.DB.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(CASE WHEN type IN ('purchase','trade_buy') THEN seconds_delta ELSE 0 END), 0), COALESCE(SUM(CASE WHEN type IN ('trade_sell','call_usage') THEN seconds_delta ELSE 0 END), 0) FROM transactions WHERE user_id = ?",
		userID).Scan(&boughtSec, &spentSec)
	if err != nil {
		return Balance{}, err
	}
	b := Balance{
		BoughtMinutes: roundMinutes(boughtSec / 60),
		SpentMinutes:  roundMinutes(absFloat(spentSec) / 60),
	}
	remaining := b.BoughtMinutes - b.SpentMinutes
	if remaining < 0 {
		remaining = 0
	}
	b.RemainingMinutes = roundMinutes(remaining)
	return b, nil
}

// ClearByUser deletes all of a user's ledger entries.  Irreversible;
// exposed only through the admin API, which logs the action.
func (r *TransactionRepo) ClearByUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM transactions WHERE user_id = ?", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func roundMinutes(m float64) float64 {
	// Two-decimal rounding for display parity with amounts.
	if m < 0 {
		return -roundMinutes(-m)
	}
	return float64(int64(m*100+0.5)) / 100
}
