package ledger

import "time"

// The ledger owns two currencies with different representations:
// coins (what participants spend, int64) and converted currency
// (what responders earn, float64 rounded to two decimals).
//
// Money invariants:
// - No coin balance change without a coin_ledger entry.
// - coin_ledger and call_transactions are append-only (immutable).
// - Earnings buckets are mutated only via atomic increments.

// Balance is the spendable coin balance projection for one participant.
type Balance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Coins     int64     `json:"coins" db:"coins"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CoinEntry is an immutable append-only coin movement.
// Credits are positive, debits are negative.
type CoinEntry struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	Type   EntryType `json:"type" db:"type"`
	Coins  int64     `json:"coins" db:"coins"`

	// ExternalRef is optional: call id, purchase id, promo id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // top-up, adjustment
	EntryTypeDebit  EntryType = "debit"  // call charge
)

// Earnings holds a responder's cumulative converted-currency totals.
// Mutated only by settlement (lifetime, pending) and payout flows
// (locked, redeemed), always via atomic increments.
type Earnings struct {
	ResponderID string  `json:"responder_id" db:"responder_id"`
	Lifetime    float64 `json:"lifetime" db:"lifetime"`
	Pending     float64 `json:"pending" db:"pending"`
	Locked      float64 `json:"locked" db:"locked"`
	Redeemed    float64 `json:"redeemed" db:"redeemed"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is the immutable settlement record for one billed call.
// It snapshots the commission parameters in effect at settlement so
// later rate changes never alter what a past call shows.
type Transaction struct {
	ID            string `json:"id" db:"id"`
	CallID        string `json:"call_id" db:"call_id"`
	ParticipantID string `json:"participant_id" db:"participant_id"`
	ResponderID   string `json:"responder_id" db:"responder_id"`

	CoinsCharged      int64   `json:"coins_charged" db:"coins_charged"`
	GrossAmount       float64 `json:"gross_amount" db:"gross_amount"`
	ResponderShare    float64 `json:"responder_share" db:"responder_share"`
	CommissionPercent float64 `json:"commission_percent" db:"commission_percent"`
	CoinRate          float64 `json:"coin_rate" db:"coin_rate"`
	Currency          string  `json:"currency" db:"currency"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
