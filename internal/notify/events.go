// Package notify delivers call lifecycle events to both parties.
// Delivery is fire-and-forget: failures are logged, never escalated,
// and receivers must treat events as idempotent because terminal
// events may be re-emitted.
package notify

// Event names. Stable; clients key UI behavior on them.
const (
	EventCallRinging    = "call.ringing"
	EventCallConnecting = "call.connecting"
	EventCallActive     = "call.active"
	EventCallEnded      = "call.ended"
	EventCallRejected   = "call.rejected"
	EventCallMissed     = "call.missed"
)

// CallEvent is the payload published for every lifecycle transition.
// It carries enough for a client to update its call screen without a
// follow-up fetch.
type CallEvent struct {
	CallID string `json:"call_id"`
	RoomID string `json:"room_id,omitempty"`

	InitiatorID string `json:"initiator_id"`
	ResponderID string `json:"responder_id"`

	Kind   string `json:"kind"`
	Status string `json:"status"`

	// Set on activation.
	MaxDurationSeconds int64  `json:"max_duration_seconds,omitempty"`
	StartedAt          string `json:"started_at,omitempty"`

	// Set on termination.
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	CoinsCharged    int64  `json:"coins_charged,omitempty"`
	Reason          string `json:"reason,omitempty"`

	OccurredAt string `json:"occurred_at"`
}
