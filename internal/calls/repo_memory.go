package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call repository for tests and early
// development. Status transitions hold one mutex, so the
// compare-and-set semantics match the Postgres conditional updates.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindOpenByResponder(ctx context.Context, responderID string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest Call
	found := false
	for _, c := range r.calls {
		if c.ResponderID != responderID || c.Status.Terminal() {
			continue
		}
		if !found || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
			found = true
		}
	}
	return latest, found, nil
}

func (r *MemoryRepo) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status, now time.Time) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok || !statusIn(c.Status, from) {
		return Call{}, false, nil
	}
	c.Status = to
	c.UpdatedAt = now
	r.calls[id] = c
	return c, true, nil
}

func (r *MemoryRepo) Activate(ctx context.Context, id string, snap ActivationSnapshot) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok || c.Status != StatusConnecting {
		return Call{}, false, nil
	}
	st := snap.StartTime
	se := snap.ScheduledEndTime
	c.Status = StatusActive
	c.StartTime = &st
	c.ScheduledEndTime = &se
	c.InitialBalance = snap.InitialBalance
	c.MaxDurationSeconds = snap.MaxDurationSeconds
	c.CoinsPerMinute = snap.CoinsPerMinute
	c.UpdatedAt = st
	r.calls[id] = c
	return c, true, nil
}

func (r *MemoryRepo) Finish(ctx context.Context, id string, from []Status, to Status, endAt time.Time, reason string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok || !statusIn(c.Status, from) {
		return Call{}, false, nil
	}
	var dur int64
	if c.StartTime != nil {
		dur = int64(endAt.Sub(*c.StartTime) / time.Second)
		if dur < 0 {
			dur = 0
		}
		if dur > c.MaxDurationSeconds {
			dur = c.MaxDurationSeconds
		}
	}
	et := endAt
	c.Status = to
	c.EndTime = &et
	c.DurationSeconds = dur
	c.EndReason = reason
	c.UpdatedAt = et
	r.calls[id] = c
	return c, true, nil
}

func (r *MemoryRepo) SetCoinsCharged(ctx context.Context, id string, coins int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	if c.CoinsCharged != 0 {
		return nil
	}
	c.CoinsCharged = coins
	c.UpdatedAt = now
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) ListRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	return r.filter(func(c Call) bool {
		return c.Status == StatusRinging && c.CreatedAt.Before(cutoff)
	}), nil
}

func (r *MemoryRepo) ListRingingForResponder(ctx context.Context, responderID, exceptCallID string) ([]Call, error) {
	return r.filter(func(c Call) bool {
		return c.Status == StatusRinging && c.ResponderID == responderID && c.ID != exceptCallID
	}), nil
}

func (r *MemoryRepo) ListActiveOverdue(ctx context.Context, now time.Time) ([]Call, error) {
	return r.filter(func(c Call) bool {
		return c.Status == StatusActive && c.ScheduledEndTime != nil && c.ScheduledEndTime.Before(now)
	}), nil
}

func (r *MemoryRepo) ListConnectingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	return r.filter(func(c Call) bool {
		return c.Status == StatusConnecting && c.CreatedAt.Before(cutoff)
	}), nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	out := r.filter(func(c Call) bool {
		return c.InitiatorID == userID || c.ResponderID == userID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) filter(keep func(Call) bool) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func statusIn(s Status, in []Status) bool {
	for _, v := range in {
		if s == v {
			return true
		}
	}
	return false
}
