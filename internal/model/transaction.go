package model

import "time"

// Ledger entry types.  Purchase and trade_buy add to a user's bought
// minutes; trade_sell and call_usage count as spent.  The ledger sum
// is the authoritative balance, independent of cached token fields.
const (
	TxTypePurchase  = "purchase"
	TxTypeTradeBuy  = "trade_buy"
	TxTypeTradeSell = "trade_sell"
	TxTypeCallUsage = "call_usage"
)

// Transaction is an immutable, append-only ledger entry in the
// `transactions` table.  Entries are never updated or deleted after
// insertion, except by the explicit admin bulk-clear.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – the user whose balance the entry affects.
//  Type         – one of the TxType constants.
//  AmountEUR    – monetary amount of the event (0 for pure usage).
//  SecondsDelta – signed change in call-seconds; positive for grants,
//                 negative for consumption, zero for money-only trades.
//  Note         – free-text description of the event.
//  CreatedAt    – insertion timestamp.
type Transaction struct {
	ID           uint64    // transactions.id
	UserID       uint64    // transactions.user_id
	Type         string    // transactions.type
	AmountEUR    float64   // transactions.amount_eur
	SecondsDelta int64     // transactions.seconds_delta
	Note         string    // transactions.note
	CreatedAt    time.Time // transactions.created_at
}
