package calls

import (
	"time"

	"callpay-platform/internal/rates"
)

// Call is one audio/video session between a participant (initiator)
// and a responder, tracked through a fixed lifecycle. Terminal calls
// are never deleted; they are the billing history.
//
// Field invariants:
//   - Parties and Kind are immutable after creation.
//   - StartTime, ScheduledEndTime, MaxDurationSeconds, InitialBalance and
//     CoinsPerMinute are set together, exactly once, on the
//     CONNECTING -> ACTIVE transition.
//   - EndTime and DurationSeconds are set exactly once, on the transition
//     into a terminal status. CoinsCharged is set once, right after
//     settlement.
//   - Status never regresses.
type Call struct {
	ID string `json:"id" db:"id"`

	// RoomID identifies the live media session, one-to-one with the call.
	RoomID string `json:"room_id" db:"room_id"`

	InitiatorID string `json:"initiator_id" db:"initiator_id"`
	ResponderID string `json:"responder_id" db:"responder_id"`

	Kind rates.CallKind `json:"kind" db:"kind"`

	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// StartTime is the moment billing begins (activation).
	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// ScheduledEndTime = StartTime + budget. Authoritative for the
	// stale-call sweep; the in-process timer is only a fast path.
	ScheduledEndTime *time.Time `json:"scheduled_end_time,omitempty" db:"scheduled_end_time"`

	// Billing snapshot, frozen at activation.
	InitialBalance     int64 `json:"initial_balance" db:"initial_balance"`
	MaxDurationSeconds int64 `json:"max_duration_seconds" db:"max_duration_seconds"`
	CoinsPerMinute     int64 `json:"coins_per_minute" db:"coins_per_minute"`

	// Final figures, written on termination.
	DurationSeconds int64 `json:"duration_seconds" db:"duration_seconds"`
	CoinsCharged    int64 `json:"coins_charged" db:"coins_charged"`

	// EndReason records why the call terminated (ended, expired,
	// rejected, missed, connection_failed, reclaimed).
	EndReason string `json:"end_reason,omitempty" db:"end_reason"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusRejected   Status = "rejected"
	StatusMissed     Status = "missed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed:
		return true
	default:
		return false
	}
}

// openStatuses are the statuses that hold the responder's availability lock.
var openStatuses = []Status{StatusRinging, StatusConnecting, StatusActive}

// End reasons.
const (
	ReasonEnded            = "ended"
	ReasonExpired          = "expired"
	ReasonRejected         = "rejected"
	ReasonMissed           = "missed"
	ReasonConnectionFailed = "connection_failed"
	ReasonReclaimed        = "reclaimed"
)
