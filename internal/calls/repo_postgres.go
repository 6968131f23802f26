package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callpay-platform/internal/rates"
)

// PostgresRepo is the production call repository.
//
// Assumed table: calls, with UNIQUE (id) and an index on
// (responder_id, status) for the open-call lookup.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
id, room_id, initiator_id, responder_id, kind, status, created_at,
start_time, end_time, scheduled_end_time,
initial_balance, max_duration_seconds, coins_per_minute,
duration_seconds, coins_charged, end_reason, updated_at
`

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, room_id, initiator_id, responder_id, kind, status, created_at,
  initial_balance, max_duration_seconds, coins_per_minute,
  duration_seconds, coins_charged, end_reason, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,0,0,0,0,0,'',$7
)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.RoomID,
		c.InitiatorID,
		c.ResponderID,
		string(c.Kind),
		string(c.Status),
		c.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrCallNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) FindOpenByResponder(ctx context.Context, responderID string) (Call, bool, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE responder_id = $1 AND status IN ('ringing','connecting','active')
ORDER BY created_at DESC
LIMIT 1
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, responderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status, now time.Time) (Call, bool, error) {
	const q = `
UPDATE calls
SET status = $2, updated_at = $3
WHERE id = $1 AND status = ANY($4)
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, string(to), now, statusStrings(from)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Activate(ctx context.Context, id string, snap ActivationSnapshot) (Call, bool, error) {
	// The billing snapshot is frozen in the same statement as the status
	// CAS so a racing confirm can never split them.
	const q = `
UPDATE calls
SET status = 'active',
    start_time = $2,
    scheduled_end_time = $3,
    initial_balance = $4,
    max_duration_seconds = $5,
    coins_per_minute = $6,
    updated_at = $2
WHERE id = $1 AND status = 'connecting'
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id,
		snap.StartTime,
		snap.ScheduledEndTime,
		snap.InitialBalance,
		snap.MaxDurationSeconds,
		snap.CoinsPerMinute,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Finish(ctx context.Context, id string, from []Status, to Status, endAt time.Time, reason string) (Call, bool, error) {
	// Duration is derived from the stored start_time inside the CAS so a
	// racing activation can never split the terminal write.
	const q = `
UPDATE calls
SET status = $2,
    end_time = $3,
    end_reason = $4,
    duration_seconds = CASE
      WHEN start_time IS NULL THEN 0
      ELSE LEAST(
        GREATEST(FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - start_time)))::bigint, 0),
        max_duration_seconds
      )
    END,
    updated_at = $3
WHERE id = $1 AND status = ANY($5)
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, string(to), endAt, reason, statusStrings(from)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) SetCoinsCharged(ctx context.Context, id string, coins int64, now time.Time) error {
	// Monotonic set-once: never overwrite a nonzero figure.
	const q = `
UPDATE calls
SET coins_charged = $2, updated_at = $3
WHERE id = $1 AND coins_charged = 0
`
	_, err := r.db.ExecContext(ctx, q, id, coins, now)
	return err
}

func (r *PostgresRepo) ListRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status = 'ringing' AND created_at < $1
`
	return r.list(ctx, q, cutoff)
}

func (r *PostgresRepo) ListRingingForResponder(ctx context.Context, responderID, exceptCallID string) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status = 'ringing' AND responder_id = $1 AND id <> $2
`
	return r.list(ctx, q, responderID, exceptCallID)
}

func (r *PostgresRepo) ListActiveOverdue(ctx context.Context, now time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status = 'active' AND scheduled_end_time IS NOT NULL AND scheduled_end_time < $1
`
	return r.list(ctx, q, now)
}

func (r *PostgresRepo) ListConnectingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status = 'connecting' AND created_at < $1
`
	return r.list(ctx, q, cutoff)
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE initiator_id = $1 OR responder_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	return r.list(ctx, q, userID, limit)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var kind, status string
	err := row.Scan(
		&c.ID,
		&c.RoomID,
		&c.InitiatorID,
		&c.ResponderID,
		&kind,
		&status,
		&c.CreatedAt,
		&c.StartTime,
		&c.EndTime,
		&c.ScheduledEndTime,
		&c.InitialBalance,
		&c.MaxDurationSeconds,
		&c.CoinsPerMinute,
		&c.DurationSeconds,
		&c.CoinsCharged,
		&c.EndReason,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.Kind = rates.CallKind(kind)
	c.Status = Status(status)
	return c, nil
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
