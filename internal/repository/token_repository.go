package repository

import (
	"context"
	"database/sql"

	"github.com/fridaylabs/token-market/internal/model"
)

// TokenRepo provides persistence for prepaid-minute tokens.  Mutating
// operations that participate in larger flows (listing trades, call
// consumption, checkout fulfilment) are exposed as *Tx methods; the
// caller owns the transaction and must commit or roll back.  All
// timestamp fields are stored in UTC.
type TokenRepo struct {
	DB *sql.DB
}

// NewTokenRepo returns a new TokenRepo bound to the given database.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const tokenColumns = "id, owner_user_id, issued_year, minutes_remaining, status, original_price_eur, created_at, updated_at"

func scanToken(row interface{ Scan(...interface{}) error }) (*model.Token, error) {
	var t model.Token
	var owner sql.NullInt64
	err := row.Scan(&t.ID, &owner, &t.IssuedYear, &t.MinutesRemaining,
		&t.Status, &t.OriginalPriceEUR, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		o := uint64(owner.Int64)
		t.OwnerUserID = &o
	}
	return &t, nil
}

// CreateTx inserts a new token within the scope of an existing
// transaction and populates the generated ID plus timestamps on the
// provided record.  OwnerUserID may be nil for admin-minted inventory.
func (r *TokenRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	var owner interface{}
	if t.OwnerUserID != nil {
		owner = *t.OwnerUserID
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO tokens (owner_user_id, issued_year, minutes_remaining, status, original_price_eur) VALUES (?,?,?,?,?)",
		owner, t.IssuedYear, t.MinutesRemaining, t.Status, t.OriginalPriceEUR)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	// Read back to populate DB-generated timestamps.
	row := tx.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE id = ?", t.ID)
	got, err := scanToken(row)
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

// GetByID returns a token by ID or ErrTokenNotFound.
func (r *TokenRepo) GetByID(ctx context.Context, id uint64) (*model.Token, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE id = ?", id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	return t, err
}

// LockByIDTx returns a token by ID with a row lock held for the
// remainder of the transaction, or ErrTokenNotFound.
func (r *TokenRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Token, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE id = ? FOR UPDATE", id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	return t, err
}

// LockOldestActiveTx locks and returns the caller's oldest active
// token that still has minutes remaining.  Consumption order is FIFO
// on creation time with the row ID as tie-break.  The row lock
// serializes concurrent call starts for the same user so two sessions
// can never claim the same last minutes.  Returns ErrNoActiveToken
// when nothing is available.
func (r *TokenRepo) LockOldestActiveTx(ctx context.Context, tx *sql.Tx, ownerID uint64) (*model.Token, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE owner_user_id = ? AND status = 'active' AND minutes_remaining > 0 ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE",
		ownerID)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveToken
	}
	return t, err
}

// LockUnassignedTx locks and returns the oldest admin-minted token for
// the given year that has no owner yet, or sql.ErrNoRows when the
// inventory is empty.  Checkout fulfilment prefers assigning existing
// inventory over minting a fresh token.
func (r *TokenRepo) LockUnassignedTx(ctx context.Context, tx *sql.Tx, year int) (*model.Token, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE owner_user_id IS NULL AND issued_year = ? AND status = 'active' ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE",
		year)
	return scanToken(row)
}

// DecrementMinutesTx subtracts minutes from a previously locked token,
// clamping at zero, and flips the status to spent when the balance
// reaches zero.  The passed record must come from LockByIDTx or
// LockOldestActiveTx within the same transaction; it is updated in
// place.  Returns the remaining minutes.
func (r *TokenRepo) DecrementMinutesTx(ctx context.Context, tx *sql.Tx, t *model.Token, minutes uint32) (uint32, error) {
	remaining := uint32(0)
	if t.MinutesRemaining > minutes {
		remaining = t.MinutesRemaining - minutes
	}
	status := model.TokenStatusActive
	if remaining == 0 {
		status = model.TokenStatusSpent
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE tokens SET minutes_remaining = ?, status = ? WHERE id = ?",
		remaining, status, t.ID)
	if err != nil {
		return 0, err
	}
	t.MinutesRemaining = remaining
	t.Status = status
	return remaining, nil
}

// TransferTx moves ownership of a token to a new user and resets the
// status to active.  The caller must have verified, under lock, that
// the token's status permits a transfer (active or listed, not spent).
func (r *TokenRepo) TransferTx(ctx context.Context, tx *sql.Tx, tokenID, newOwnerID uint64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tokens SET owner_user_id = ?, status = 'active' WHERE id = ?",
		newOwnerID, tokenID)
	return err
}

// UpdateStatusTx sets the lifecycle status of a token.
func (r *TokenRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, tokenID uint64, status string) error {
	_, err := tx.ExecContext(ctx, "UPDATE tokens SET status = ? WHERE id = ?", status, tokenID)
	return err
}

// ListByOwner returns all of a user's tokens, newest first.
func (r *TokenRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.Token, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE owner_user_id = ? ORDER BY created_at DESC, id DESC",
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountActiveByOwnerTx counts a user's active tokens inside a
// transaction; the direct-purchase cap check must see the same
// snapshot the insert will.
func (r *TokenRepo) CountActiveByOwnerTx(ctx context.Context, tx *sql.Tx, ownerID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tokens WHERE owner_user_id = ? AND status = 'active'",
		ownerID).Scan(&n)
	return n, err
}

// Supply aggregates token counts by lifecycle status for the public
// supply overview.
type Supply struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Listed int `json:"listed"`
	Spent  int `json:"spent"`
}

// SupplyCounts returns marketplace-wide token counts.
func (r *TokenRepo) SupplyCounts(ctx context.Context) (Supply, error) {
	var s Supply
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(status = 'active'), 0), COALESCE(SUM(status = 'listed'), 0), COALESCE(SUM(status = 'spent'), 0) FROM tokens").
		Scan(&s.Total, &s.Active, &s.Listed, &s.Spent)
	return s, err
}

// DeleteByOwner removes all tokens belonging to a user.  Admin purge
// only; regular flows never delete tokens.
func (r *TokenRepo) DeleteByOwner(ctx context.Context, ownerID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM tokens WHERE owner_user_id = ?", ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
