package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service owns participant coin balances and responder earnings.
//
// Settlement is executed at most once per call: the caller gates it on
// the call's terminal-status compare-and-set, and the repository adds a
// call-scoped idempotency key as a second line of defense.
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Repository abstracts ledger persistence. ApplySettlement must be a
// single atomic unit: balance decrement, earnings increments and the
// transaction insert either all apply or none do.
type Repository interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
	Credit(ctx context.Context, entry CoinEntry) (Balance, error)
	GetEarnings(ctx context.Context, responderID string) (Earnings, error)
	ApplySettlement(ctx context.Context, req SettlementRequest, txID string, now time.Time) (SettlementResult, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

type CreditRequest struct {
	Coins          int64  `json:"coins"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SettlementRequest carries everything settlement needs, with the rate
// parameters snapshotted by the caller at the right moments (per-minute
// coin price at activation, conversion rate and commission at
// settlement).
type SettlementRequest struct {
	CallID        string
	ParticipantID string
	ResponderID   string

	ElapsedSeconds    int64
	CoinsPerMinute    int64
	CoinRate          float64
	CommissionPercent float64
	Currency          string
}

type SettlementResult struct {
	CoinsCharged   int64
	GrossAmount    float64
	ResponderShare float64

	// TransactionID is empty for zero-charge settlements, which write
	// no ledger rows at all.
	TransactionID string
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSettlementFailed means an earnings or ledger write did not
	// apply. This is lost revenue: callers must escalate, never
	// swallow it.
	ErrSettlementFailed = errors.New("settlement write did not apply")
)

// GetBalance returns the participant's spendable coins. Unknown users
// hold a zero balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.repo.GetBalance(ctx, userID)
}

// Credit tops up a participant's coin balance. Idempotent on the key:
// retrying a credit returns the original outcome without double-posting.
func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (Balance, error) {
	if userID == "" || req.IdempotencyKey == "" {
		return Balance{}, ErrInvalidArgument
	}
	if req.Coins <= 0 {
		return Balance{}, ErrInvalidArgument
	}
	entry := CoinEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeCredit,
		Coins:          req.Coins,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.clock().UTC(),
	}
	return s.repo.Credit(ctx, entry)
}

// Earnings returns the responder's cumulative converted-currency totals.
func (s *Service) Earnings(ctx context.Context, responderID string) (Earnings, error) {
	if responderID == "" {
		return Earnings{}, ErrInvalidArgument
	}
	return s.repo.GetEarnings(ctx, responderID)
}

// SettleCall deducts the proportional call cost from the participant,
// credits the responder's share, and appends the immutable transaction
// record — atomically. A zero-charge settlement (no elapsed billable
// time, or an already-empty balance) mutates nothing.
func (s *Service) SettleCall(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	if req.CallID == "" || req.ParticipantID == "" || req.ResponderID == "" {
		return SettlementResult{}, ErrInvalidArgument
	}
	if req.CoinsPerMinute <= 0 || req.CoinRate <= 0 {
		return SettlementResult{}, ErrInvalidArgument
	}
	if req.CommissionPercent < 0 || req.CommissionPercent > 100 {
		return SettlementResult{}, ErrInvalidArgument
	}
	if req.ElapsedSeconds <= 0 {
		return SettlementResult{}, nil
	}
	return s.repo.ApplySettlement(ctx, req, uuid.NewString(), s.clock().UTC())
}

// Transactions lists settlement records where the user was either side
// of the call, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, userID, limit)
}
