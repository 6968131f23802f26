package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMemoryLock_SingleWinnerUnderContention(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := l.TryAcquire(ctx, "resp", string(rune('a'+i)))
			if err != nil {
				t.Errorf("unexpected err: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryLock_ReacquireBySameCallSucceeds(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	ok, _ := l.TryAcquire(ctx, "resp", "c1")
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	ok, _ = l.TryAcquire(ctx, "resp", "c1")
	if !ok {
		t.Fatalf("expected re-acquire by holder to succeed")
	}
	ok, _ = l.TryAcquire(ctx, "resp", "c2")
	if ok {
		t.Fatalf("expected acquire by another call to fail")
	}
}

func TestMemoryLock_ReleaseIsIdempotent(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	if err := l.Release(ctx, "resp"); err != nil {
		t.Fatalf("release on free responder errored: %v", err)
	}

	_, _ = l.TryAcquire(ctx, "resp", "c1")
	if err := l.Release(ctx, "resp"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := l.Release(ctx, "resp"); err != nil {
		t.Fatalf("double release errored: %v", err)
	}

	h, _ := l.Holder(ctx, "resp")
	if h != "" {
		t.Fatalf("expected free responder, holder=%q", h)
	}
}

func TestMemoryLock_ReleaseOwnedSkipsNewerHolder(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	_, _ = l.TryAcquire(ctx, "resp", "c1")
	if err := l.ReleaseOwned(ctx, "resp", "c2"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	h, _ := l.Holder(ctx, "resp")
	if h != "c1" {
		t.Fatalf("release by non-holder must not free the lock, holder=%q", h)
	}

	if err := l.ReleaseOwned(ctx, "resp", "c1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	h, _ = l.Holder(ctx, "resp")
	if h != "" {
		t.Fatalf("expected free responder, holder=%q", h)
	}
}
