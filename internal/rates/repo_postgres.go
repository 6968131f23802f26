package rates

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads rate rows from Postgres.
//
// Assumed tables:
// - call_rates (kind, coins_per_minute, enabled, effective window)
// - billing_settings (single row: commission, conversion rate, currency)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindCallRate(ctx context.Context, kind CallKind, at time.Time) (CallRate, bool, error) {
	// Most recent rate whose effective window covers `at` wins.
	const q = `
SELECT id, kind, coins_per_minute, enabled, effective_from, effective_to, created_at, updated_at
FROM call_rates
WHERE kind = $1
  AND effective_from <= $2
  AND (effective_to IS NULL OR effective_to > $2)
ORDER BY effective_from DESC
LIMIT 1
`
	var out CallRate
	err := r.db.QueryRowContext(ctx, q, string(kind), at).Scan(
		&out.ID,
		&out.Kind,
		&out.CoinsPerMinute,
		&out.Enabled,
		&out.EffectiveFrom,
		&out.EffectiveTo,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRate{}, false, nil
		}
		return CallRate{}, false, err
	}
	return out, true, nil
}

func (r *PostgresRepo) GetSettings(ctx context.Context) (Settings, error) {
	const q = `
SELECT commission_percent, coin_to_currency_rate, currency, updated_at
FROM billing_settings
ORDER BY updated_at DESC
LIMIT 1
`
	var s Settings
	err := r.db.QueryRowContext(ctx, q).Scan(
		&s.CommissionPercent,
		&s.CoinToCurrencyRate,
		&s.Currency,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, ErrNoSettings
		}
		return Settings{}, err
	}
	return s, nil
}
