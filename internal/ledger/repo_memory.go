package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory ledger repository for tests and early
// development. It mirrors the Postgres transaction semantics under a
// single mutex: a settlement either fully applies or not at all.
type MemoryRepo struct {
	mu sync.Mutex

	balances     map[string]Balance
	earnings     map[string]Earnings
	entries      []CoinEntry
	transactions []Transaction

	// FailEarnings simulates an earnings write that reports no row
	// updated, for exercising the fatal settlement path.
	FailEarnings bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		balances: map[string]Balance{},
		earnings: map[string]Earnings{},
	}
}

// SetBalance seeds a participant balance. Test helper.
func (r *MemoryRepo) SetBalance(userID string, coins int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = Balance{UserID: userID, Coins: coins, UpdatedAt: time.Now().UTC()}
}

func (r *MemoryRepo) GetBalance(ctx context.Context, userID string) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[userID]
	if !ok {
		return Balance{UserID: userID}, nil
	}
	return b, nil
}

func (r *MemoryRepo) Credit(ctx context.Context, entry CoinEntry) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == entry.UserID && e.IdempotencyKey == entry.IdempotencyKey {
			return r.balances[entry.UserID], nil
		}
	}
	r.entries = append(r.entries, entry)
	return r.applyDelta(entry.UserID, entry.Coins, entry.CreatedAt), nil
}

func (r *MemoryRepo) GetEarnings(ctx context.Context, responderID string) (Earnings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.earnings[responderID]
	if !ok {
		return Earnings{ResponderID: responderID}, nil
	}
	return e, nil
}

func (r *MemoryRepo) ApplySettlement(ctx context.Context, req SettlementRequest, txID string, now time.Time) (SettlementResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := "settle:" + req.CallID
	for _, e := range r.entries {
		if e.UserID == req.ParticipantID && e.IdempotencyKey == key {
			for _, t := range r.transactions {
				if t.CallID == req.CallID {
					return SettlementResult{
						CoinsCharged:   t.CoinsCharged,
						GrossAmount:    t.GrossAmount,
						ResponderShare: t.ResponderShare,
						TransactionID:  t.ID,
					}, nil
				}
			}
			return SettlementResult{}, nil
		}
	}

	bal := r.balances[req.ParticipantID]
	charge := Charge(req.ElapsedSeconds, req.CoinsPerMinute, bal.Coins)
	if charge == 0 {
		return SettlementResult{}, nil
	}
	if r.FailEarnings {
		return SettlementResult{}, ErrSettlementFailed
	}

	r.entries = append(r.entries, CoinEntry{
		ID:             txID,
		UserID:         req.ParticipantID,
		Type:           EntryTypeDebit,
		Coins:          -charge,
		ExternalRef:    "call:" + req.CallID,
		IdempotencyKey: key,
		CreatedAt:      now,
	})
	r.applyDelta(req.ParticipantID, -charge, now)

	gross, share := Share(charge, req.CoinRate, req.CommissionPercent)
	e := r.earnings[req.ResponderID]
	e.ResponderID = req.ResponderID
	e.Lifetime += share
	e.Pending += share
	e.UpdatedAt = now
	r.earnings[req.ResponderID] = e

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
	r.transactions = append(r.transactions, t)

	return SettlementResult{
		CoinsCharged:   charge,
		GrossAmount:    gross,
		ResponderShare: share,
		TransactionID:  txID,
	}, nil
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transaction, 0)
	for i := len(r.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		t := r.transactions[i]
		if t.ParticipantID == userID || t.ResponderID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Transactions returns a copy of all settlement records. Test helper.
func (r *MemoryRepo) Transactions() []Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transaction, len(r.transactions))
	copy(out, r.transactions)
	return out
}

func (r *MemoryRepo) applyDelta(userID string, delta int64, now time.Time) Balance {
	b := r.balances[userID]
	b.UserID = userID
	b.Coins += delta
	b.UpdatedAt = now
	r.balances[userID] = b
	return b
}
