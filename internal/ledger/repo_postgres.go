package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callpay-platform/pkg/utils"
)

// PostgresRepo is the production ledger repository.
//
// Assumed tables:
// - coin_ledger (immutable append-only; UNIQUE (user_id, idempotency_key))
// - coin_balances (projection)
// - responder_earnings (cumulative buckets)
// - call_transactions (immutable append-only; UNIQUE (call_id))
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) GetBalance(ctx context.Context, userID string) (Balance, error) {
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
`
	var b Balance
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown users simply hold zero coins.
			return Balance{UserID: userID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *PostgresRepo) Credit(ctx context.Context, entry CoinEntry) (Balance, error) {
	var out Balance
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: a replayed credit returns the current balance
		// without posting a second entry.
		if _, ok, err := findEntryByIdempotency(ctx, tx, entry.UserID, entry.IdempotencyKey); err != nil {
			return err
		} else if ok {
			b, err := getBalanceTx(ctx, tx, entry.UserID)
			if err != nil {
				return err
			}
			out = b
			return nil
		}

		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, entry.UserID, entry.Coins, entry.CreatedAt)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (r *PostgresRepo) GetEarnings(ctx context.Context, responderID string) (Earnings, error) {
	const q = `
SELECT responder_id, lifetime, pending, locked, redeemed, updated_at
FROM responder_earnings
WHERE responder_id = $1
`
	var e Earnings
	if err := r.db.QueryRowContext(ctx, q, responderID).Scan(
		&e.ResponderID,
		&e.Lifetime,
		&e.Pending,
		&e.Locked,
		&e.Redeemed,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conservative defaults for a responder who never earned.
			return Earnings{ResponderID: responderID}, nil
		}
		return Earnings{}, err
	}
	return e, nil
}

func (r *PostgresRepo) ApplySettlement(ctx context.Context, req SettlementRequest, txID string, now time.Time) (SettlementResult, error) {
	var out SettlementResult
	key := "settle:" + req.CallID

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Replay backstop: the caller's terminal-status CAS should make
		// this unreachable, but a crash between CAS and commit must not
		// double-charge on retry.
		if _, ok, err := findEntryByIdempotency(ctx, tx, req.ParticipantID, key); err != nil {
			return err
		} else if ok {
			t, found, err := findTransactionByCall(ctx, tx, req.CallID)
			if err != nil {
				return err
			}
			if found {
				out = SettlementResult{
					CoinsCharged:   t.CoinsCharged,
					GrossAmount:    t.GrossAmount,
					ResponderShare: t.ResponderShare,
					TransactionID:  t.ID,
				}
			}
			return nil
		}

		bal, err := getBalanceForUpdate(ctx, tx, req.ParticipantID)
		if err != nil {
			return err
		}
		charge := Charge(req.ElapsedSeconds, req.CoinsPerMinute, bal.Coins)
		if charge == 0 {
			// Nothing billable: no ledger rows at all.
			return nil
		}

		if err := insertEntry(ctx, tx, CoinEntry{
			ID:             txID,
			UserID:         req.ParticipantID,
			Type:           EntryTypeDebit,
			Coins:          -charge,
			ExternalRef:    "call:" + req.CallID,
			IdempotencyKey: key,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if _, err := applyBalanceDelta(ctx, tx, req.ParticipantID, -charge, now); err != nil {
			return err
		}

		gross, share := Share(charge, req.CoinRate, req.CommissionPercent)
		if err := incrementEarnings(ctx, tx, req.ResponderID, share, now); err != nil {
			return err
		}

		t := Transaction{
			ID:                txID,
			CallID:            req.CallID,
			ParticipantID:     req.ParticipantID,
			ResponderID:       req.ResponderID,
			CoinsCharged:      charge,
			GrossAmount:       gross,
			ResponderShare:    share,
			CommissionPercent: req.CommissionPercent,
			CoinRate:          req.CoinRate,
			Currency:          req.Currency,
			DurationSeconds:   int(req.ElapsedSeconds),
			CreatedAt:         now,
		}
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}

		out = SettlementResult{
			CoinsCharged:   charge,
			GrossAmount:    gross,
			ResponderShare: share,
			TransactionID:  txID,
		}
		return nil
	})
	return out, err
}

func (r *PostgresRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	const q = `
SELECT id, call_id, participant_id, responder_id, coins_charged, gross_amount, responder_share,
       commission_percent, coin_rate, currency, duration_seconds, created_at
FROM call_transactions
WHERE participant_id = $1 OR responder_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.CallID,
			&t.ParticipantID,
			&t.ResponderID,
			&t.CoinsCharged,
			&t.GrossAmount,
			&t.ResponderShare,
			&t.CommissionPercent,
			&t.CoinRate,
			&t.Currency,
			&t.DurationSeconds,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{UserID: userID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	// Lock the balance row to serialize concurrent settlements and credits
	// for the same participant.
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{UserID: userID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func findEntryByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (CoinEntry, bool, error) {
	const q = `
SELECT id, user_id, type, coins, external_ref, idempotency_key, created_at
FROM coin_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e CoinEntry
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.Coins,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CoinEntry{}, false, nil
		}
		return CoinEntry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e CoinEntry) error {
	const q = `
INSERT INTO coin_ledger (
  id, user_id, type, coins, external_ref, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.Coins,
		e.ExternalRef,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO coin_balances (user_id, coins, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET coins = coin_balances.coins + EXCLUDED.coins,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, coins, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, delta, now).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func incrementEarnings(ctx context.Context, tx *sql.Tx, responderID string, share float64, now time.Time) error {
	// Upsert with conservative defaults for a first-time earner.
	const q = `
INSERT INTO responder_earnings (responder_id, lifetime, pending, locked, redeemed, updated_at)
VALUES ($1,$2,$2,0,0,$3)
ON CONFLICT (responder_id)
DO UPDATE SET lifetime = responder_earnings.lifetime + EXCLUDED.lifetime,
              pending  = responder_earnings.pending + EXCLUDED.pending,
              updated_at = EXCLUDED.updated_at
`
	res, err := tx.ExecContext(ctx, q, responderID, share, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Earnings lost is a financial-correctness violation; the whole
		// settlement transaction rolls back.
		return ErrSettlementFailed
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
INSERT INTO call_transactions (
  id, call_id, participant_id, responder_id, coins_charged, gross_amount, responder_share,
  commission_percent, coin_rate, currency, duration_seconds, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID,
		t.CallID,
		t.ParticipantID,
		t.ResponderID,
		t.CoinsCharged,
		t.GrossAmount,
		t.ResponderShare,
		t.CommissionPercent,
		t.CoinRate,
		t.Currency,
		t.DurationSeconds,
		t.CreatedAt,
	)
	return err
}

func findTransactionByCall(ctx context.Context, tx *sql.Tx, callID string) (Transaction, bool, error) {
	const q = `
SELECT id, call_id, participant_id, responder_id, coins_charged, gross_amount, responder_share,
       commission_percent, coin_rate, currency, duration_seconds, created_at
FROM call_transactions
WHERE call_id = $1
LIMIT 1
`
	var t Transaction
	err := tx.QueryRowContext(ctx, q, callID).Scan(
		&t.ID,
		&t.CallID,
		&t.ParticipantID,
		&t.ResponderID,
		&t.CoinsCharged,
		&t.GrossAmount,
		&t.ResponderShare,
		&t.CommissionPercent,
		&t.CoinRate,
		&t.Currency,
		&t.DurationSeconds,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}
