package model

import "time"

// Listing statuses.  A listing is created open and closes exactly once
// as either sold or cancelled; closed listings are never reopened.
const (
	ListingStatusOpen      = "open"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
)

// Listing is an open offer to sell one token, stored in the `listings`
// table.  At most one open listing may reference a given token; this
// is enforced by only allowing listing creation while the token is in
// status active (the creation transaction flips it to listed).
//
// Fields:
//  ID           – primary key identifier.
//  TokenID      – the token offered for sale.
//  SellerUserID – the user selling the token.
//  PriceEUR     – asking price in EUR.
//  Status       – open, sold or cancelled.
//  CreatedAt    – creation timestamp.
//  ClosedAt     – set once, when the listing is sold or cancelled.
type Listing struct {
	ID           uint64     // listings.id
	TokenID      uint64     // listings.token_id
	SellerUserID uint64     // listings.seller_user_id
	PriceEUR     float64    // listings.price_eur
	Status       string     // listings.status
	CreatedAt    time.Time  // listings.created_at
	ClosedAt     *time.Time // listings.closed_at (nullable)
}
