package calls

import (
	"context"
	"time"
)

// Repository abstracts call persistence.
//
// Every status-changing method is a compare-and-set: the update applies
// only if the row is still in one of the expected source statuses, and
// the bool result reports whether this caller won. That CAS is what
// makes terminal transitions (and therefore settlement) exactly-once
// under racing enders, timers and sweeps.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)

	// FindOpenByResponder returns the responder's non-terminal call, if any.
	FindOpenByResponder(ctx context.Context, responderID string) (Call, bool, error)

	// UpdateStatusIf moves the call from one of `from` to `to`.
	UpdateStatusIf(ctx context.Context, id string, from []Status, to Status, now time.Time) (Call, bool, error)

	// Activate applies the CONNECTING -> ACTIVE transition together with
	// the billing snapshot, atomically.
	Activate(ctx context.Context, id string, snap ActivationSnapshot) (Call, bool, error)

	// Finish applies a terminal transition. The final duration is
	// computed inside the same conditional update from the stored
	// start_time — floor(endAt - start_time), clamped to the budget,
	// zero when the call never activated — so a racing activation can
	// never produce a half-applied terminal row. Loses (won=false) if
	// the call is not in one of `from`.
	Finish(ctx context.Context, id string, from []Status, to Status, endAt time.Time, reason string) (Call, bool, error)

	// SetCoinsCharged persists the settled amount, once.
	SetCoinsCharged(ctx context.Context, id string, coins int64, now time.Time) error

	// Sweep queries.
	ListRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error)
	ListRingingForResponder(ctx context.Context, responderID, exceptCallID string) ([]Call, error)
	ListActiveOverdue(ctx context.Context, now time.Time) ([]Call, error)
	ListConnectingBefore(ctx context.Context, cutoff time.Time) ([]Call, error)

	// History.
	ListByUser(ctx context.Context, userID string, limit int) ([]Call, error)
}

// ActivationSnapshot is the set of fields frozen together at activation.
type ActivationSnapshot struct {
	StartTime          time.Time
	ScheduledEndTime   time.Time
	InitialBalance     int64
	MaxDurationSeconds int64
	CoinsPerMinute     int64
}
