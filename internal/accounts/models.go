package accounts

import "time"

// Account is the user directory row for both call participants and
// responders.
//
// InCall is a denormalized convenience flag for profile/listing reads.
// It mirrors the authoritative presence lock and must never be used to
// decide whether a responder can take a call.
type Account struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`

	Role Role `json:"role" db:"role"`

	// Responder availability signals.
	Online  bool `json:"online" db:"online"`
	Blocked bool `json:"blocked" db:"blocked"`

	// Capability toggles per call kind.
	AudioEnabled bool `json:"audio_enabled" db:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled" db:"video_enabled"`

	// InCall mirrors the presence lock; read-only convenience.
	InCall bool `json:"in_call" db:"in_call"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Role string

const (
	RoleParticipant Role = "participant"
	RoleResponder   Role = "responder"
	RoleAdmin       Role = "admin"
)
