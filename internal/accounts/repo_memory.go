package accounts

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory account repository for tests and early development.
type MemoryRepo struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: map[string]Account{}}
}

// Put inserts or replaces an account. Test helper.
func (r *MemoryRepo) Put(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) SetInCall(ctx context.Context, id string, inCall bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.InCall = inCall
	r.accounts[id] = a
	return nil
}
