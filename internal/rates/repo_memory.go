package rates

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory rates repository for tests and early development.
type MemoryRepo struct {
	mu sync.Mutex

	Rate     map[CallKind]CallRate
	Settings Settings
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Rate: map[CallKind]CallRate{}}
}

func (r *MemoryRepo) FindCallRate(ctx context.Context, kind CallKind, at time.Time) (CallRate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rate, ok := r.Rate[kind]
	if !ok {
		return CallRate{}, false, nil
	}
	if !rate.EffectiveFrom.IsZero() && at.Before(rate.EffectiveFrom) {
		return CallRate{}, false, nil
	}
	if rate.EffectiveTo != nil && !at.Before(*rate.EffectiveTo) {
		return CallRate{}, false, nil
	}
	return rate, true, nil
}

func (r *MemoryRepo) GetSettings(ctx context.Context) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Settings, nil
}
