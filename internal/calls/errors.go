package calls

import (
	"errors"

	"callpay-platform/internal/ledger"
)

// Typed failures surfaced to the API layer. Each maps to a stable
// machine-readable code so clients can render specific messages
// without parsing free text.
var (
	ErrCallNotFound = errors.New("call not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrNotCallParty means the caller is neither side of the call (or
	// not the side an operation requires).
	ErrNotCallParty = errors.New("not a party to this call")

	ErrInvalidState = errors.New("illegal call state transition")

	ErrInsufficientCoins = errors.New("balance below minimum call duration")

	ErrKindDisabled = errors.New("call kind is disabled")

	ErrResponderOffline   = errors.New("responder is offline")
	ErrResponderBlocked   = errors.New("responder is blocked")
	ErrResponderIncapable = errors.New("responder does not take this call kind")
	ErrResponderBusy      = errors.New("responder is in another call")
)

// Code returns the stable machine-readable code for a lifecycle error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrCallNotFound):
		return "CALL_NOT_FOUND"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrNotCallParty):
		return "NOT_CALL_PARTY"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_CALL_STATE"
	case errors.Is(err, ErrInsufficientCoins):
		return "INSUFFICIENT_COINS"
	case errors.Is(err, ErrKindDisabled):
		return "FEATURE_DISABLED"
	case errors.Is(err, ErrResponderOffline):
		return "RESPONDER_OFFLINE"
	case errors.Is(err, ErrResponderBlocked):
		return "RESPONDER_BLOCKED"
	case errors.Is(err, ErrResponderIncapable):
		return "RESPONDER_UNSUPPORTED_KIND"
	case errors.Is(err, ErrResponderBusy):
		return "RESPONDER_IN_CALL"
	case errors.Is(err, ledger.ErrSettlementFailed):
		return "SETTLEMENT_FAILED"
	default:
		return "INTERNAL"
	}
}
