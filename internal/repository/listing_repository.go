package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fridaylabs/token-market/internal/model"
)

// ListingRepo provides persistence for marketplace listings.  The
// state machine is open -> sold and open -> cancelled, both terminal;
// CloseTx enforces the transition with a conditional update so
// concurrent buyers are serialized by the row lock taken in
// LockByIDTx and the loser observes the listing as no longer open.
type ListingRepo struct {
	DB *sql.DB
}

// NewListingRepo returns a new ListingRepo bound to the given database.
func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{DB: db} }

const listingColumns = "id, token_id, seller_user_id, price_eur, status, created_at, closed_at"

func scanListing(row interface{ Scan(...interface{}) error }) (*model.Listing, error) {
	var l model.Listing
	var closed sql.NullTime
	err := row.Scan(&l.ID, &l.TokenID, &l.SellerUserID, &l.PriceEUR,
		&l.Status, &l.CreatedAt, &closed)
	if err != nil {
		return nil, err
	}
	if closed.Valid {
		t := closed.Time
		l.ClosedAt = &t
	}
	return &l, nil
}

// CreateTx inserts an open listing within an existing transaction and
// populates the generated ID on the record.  The caller is
// responsible for flipping the token to listed in the same
// transaction.
func (r *ListingRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Listing) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO listings (token_id, seller_user_id, price_eur, status) VALUES (?,?,?,'open')",
		l.TokenID, l.SellerUserID, l.PriceEUR)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	l.Status = model.ListingStatusOpen
	return nil
}

// LockByIDTx returns a listing by ID with a row lock held for the
// remainder of the transaction, or ErrListingNotFound.  Callers check
// the status themselves so state conflicts can be reported distinctly
// from missing rows.
func (r *ListingRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Listing, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = ? FOR UPDATE", id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

// CloseTx moves an open listing to the given terminal status and
// stamps closed_at.  Returns ErrConflict when the listing is no
// longer open, which a concurrent purchase loser observes.
func (r *ListingRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, status string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE listings SET status = ?, closed_at = NOW() WHERE id = ? AND status = 'open'",
		status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// OpenListing is an open offer as shown on the public market board,
// joined with token details buyers care about.
type OpenListing struct {
	ID               uint64  `json:"id"`
	TokenID          uint64  `json:"token_id"`
	SellerUserID     uint64  `json:"seller_user_id"`
	PriceEUR         float64 `json:"price_eur"`
	IssuedYear       int     `json:"issued_year"`
	MinutesRemaining uint32  `json:"minutes_remaining"`
	CreatedAt        string  `json:"created_at"`
}

// ListOpen returns all open listings, newest first, with the listed
// token's year and remaining minutes.
func (r *ListingRepo) ListOpen(ctx context.Context) ([]OpenListing, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT l.id, l.token_id, l.seller_user_id, l.price_eur, t.issued_year, t.minutes_remaining, l.created_at
		 FROM listings l
		 JOIN tokens t ON t.id = l.token_id
		 WHERE l.status = 'open'
		 ORDER BY l.created_at DESC, l.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]OpenListing, 0)
	for rows.Next() {
		var ol OpenListing
		var created sql.NullTime
		if err := rows.Scan(&ol.ID, &ol.TokenID, &ol.SellerUserID, &ol.PriceEUR,
			&ol.IssuedYear, &ol.MinutesRemaining, &created); err != nil {
			return nil, err
		}
		if created.Valid {
			ol.CreatedAt = created.Time.UTC().Format(time.RFC3339)
		}
		out = append(out, ol)
	}
	return out, rows.Err()
}
