package presence

import (
	"context"
	"sync"
)

// MemoryLock mirrors RedisLock semantics for tests and single-process
// development.
type MemoryLock struct {
	mu      sync.Mutex
	holders map[string]string
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{holders: map[string]string{}}
}

func (l *MemoryLock) TryAcquire(ctx context.Context, responderID, callID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.holders[responderID]
	if ok && cur != callID {
		return false, nil
	}
	l.holders[responderID] = callID
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, responderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, responderID)
	return nil
}

func (l *MemoryLock) ReleaseOwned(ctx context.Context, responderID, callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[responderID] == callID {
		delete(l.holders, responderID)
	}
	return nil
}

func (l *MemoryLock) Holder(ctx context.Context, responderID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[responderID], nil
}
