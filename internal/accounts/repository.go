package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("account not found")

// Repository abstracts account persistence.
type Repository interface {
	Get(ctx context.Context, id string) (Account, error)

	// SetInCall updates the mirrored in_call flag. Best-effort only:
	// callers log failures and carry on, the presence lock stays
	// authoritative.
	SetInCall(ctx context.Context, id string, inCall bool) error
}

// PostgresRepo is the production account repository.
//
// Assumed table: accounts.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Account, error) {
	const q = `
SELECT id, display_name, role, online, blocked, audio_enabled, video_enabled, in_call, created_at, updated_at
FROM accounts
WHERE id = $1
`
	var a Account
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.DisplayName,
		&a.Role,
		&a.Online,
		&a.Blocked,
		&a.AudioEnabled,
		&a.VideoEnabled,
		&a.InCall,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PostgresRepo) SetInCall(ctx context.Context, id string, inCall bool) error {
	const q = `
UPDATE accounts SET in_call = $2, updated_at = $3 WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, inCall, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
