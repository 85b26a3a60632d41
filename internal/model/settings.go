package model

import "time"

// Settings is the single-row `settings` table (id = 1).  It holds the
// marketplace-wide current token price.  When CurrentPriceEUR is set
// it overrides the year-based pricing formula; when NULL the formula
// applies.  Handlers fetch the row once per operation and pass the
// value into pricing explicitly.
type Settings struct {
	ID              uint64     // settings.id (always 1)
	CurrentPriceEUR *float64   // settings.current_price_eur (nullable)
	UpdatedAt       time.Time  // settings.updated_at
}
