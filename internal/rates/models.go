package rates

import "time"

// Rate rows define what a minute of call time costs in coins.
// Amounts the platform owns (coins) are int64; the coin-to-currency
// conversion factor is fractional and therefore float64.

// CallRate defines the per-minute coin price for one call kind.
type CallRate struct {
	ID string `json:"id" db:"id"`

	// Kind is the call kind this rate applies to (audio, video).
	Kind CallKind `json:"kind" db:"kind"`

	// CoinsPerMinute is the price per started minute, in coins.
	CoinsPerMinute int64 `json:"coins_per_minute" db:"coins_per_minute"`

	// Enabled is the feature toggle for this call kind.
	Enabled bool `json:"enabled" db:"enabled"`

	// Effective window for the rate.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Settings carries the platform-wide billing parameters used at settlement.
type Settings struct {
	// CommissionPercent is the responder's share of the converted
	// currency value, e.g. 50 means the responder earns half.
	CommissionPercent float64 `json:"commission_percent" db:"commission_percent"`

	// CoinToCurrencyRate converts one coin into currency units.
	CoinToCurrencyRate float64 `json:"coin_to_currency_rate" db:"coin_to_currency_rate"`

	Currency string `json:"currency" db:"currency"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Valid reports whether k is a known call kind.
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}
