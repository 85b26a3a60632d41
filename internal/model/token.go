package model

import "time"

// Token lifecycle statuses.  A token starts active, moves to listed
// while an open marketplace listing references it, returns to active
// when that listing closes, and becomes spent permanently once its
// minutes reach zero.
const (
	TokenStatusActive = "active"
	TokenStatusListed = "listed"
	TokenStatusSpent  = "spent"
)

// TokenMinutes is the call-minute allocation every newly minted token
// carries.
const TokenMinutes = 60

// MaxActiveTokensPerUser caps how many active tokens a single user may
// hold through direct purchase.  Marketplace trades are not subject to
// the cap.
const MaxActiveTokensPerUser = 20

// Token represents one purchased block of prepaid call-minutes as
// stored in the `tokens` table.  Admin-minted inventory tokens carry a
// NULL owner until their first sale assigns one.
//
// Fields:
//  ID               – primary key identifier.
//  OwnerUserID      – current owner (nullable for unsold inventory).
//  IssuedYear       – the year the token was issued for; drives pricing.
//  MinutesRemaining – minutes left on the token, never negative.
//  Status           – lifecycle status (active, listed, spent).
//  OriginalPriceEUR – the price the token was originally sold at.
//  CreatedAt        – creation timestamp; consumption is FIFO on this.
//  UpdatedAt        – last update timestamp.
type Token struct {
	ID               uint64     // tokens.id
	OwnerUserID      *uint64    // tokens.owner_user_id (nullable)
	IssuedYear       int        // tokens.issued_year
	MinutesRemaining uint32     // tokens.minutes_remaining
	Status           string     // tokens.status
	OriginalPriceEUR float64    // tokens.original_price_eur
	CreatedAt        time.Time  // tokens.created_at
	UpdatedAt        time.Time  // tokens.updated_at
}
