package calls

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresOnce(t *testing.T) {
	s := NewTerminationScheduler()
	defer s.Shutdown()

	var fired atomic.Int32
	done := make(chan struct{})
	s.Arm("c1", time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	if s.Armed("c1") {
		t.Fatalf("fired timer must remove its handle")
	}
}

func TestScheduler_CancelledTimerNeverFires(t *testing.T) {
	s := NewTerminationScheduler()
	defer s.Shutdown()

	var fired atomic.Int32
	s.Arm("c1", 20*time.Millisecond, func() { fired.Add(1) })
	if !s.Cancel("c1") {
		t.Fatalf("Cancel must report a live timer")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("cancelled timer fired %d times", fired.Load())
	}
	if s.Cancel("c1") {
		t.Fatalf("second Cancel must report no timer")
	}
}

func TestScheduler_RearmReplacesTimer(t *testing.T) {
	s := NewTerminationScheduler()
	defer s.Shutdown()

	var first, second atomic.Int32
	s.Arm("c1", 10*time.Millisecond, func() { first.Add(1) })
	s.Arm("c1", 30*time.Millisecond, func() { second.Add(1) })

	time.Sleep(80 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatalf("replaced timer fired")
	}
	if second.Load() != 1 {
		t.Fatalf("replacement fired %d times, want 1", second.Load())
	}
}

func TestScheduler_CancelRacesFire(t *testing.T) {
	s := NewTerminationScheduler()
	defer s.Shutdown()

	// The callback and Cancel contend for the same handle; at most one
	// of them may win, never both partially.
	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		s.Arm("race", time.Microsecond, func() { fired.Add(1) })

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Cancel("race")
		}()
		wg.Wait()

		time.Sleep(time.Millisecond)
		if fired.Load() > 1 {
			t.Fatalf("iteration %d: callback ran %d times", i, fired.Load())
		}
		if s.Armed("race") {
			t.Fatalf("iteration %d: handle leaked", i)
		}
	}
}

func TestScheduler_ShutdownStopsEverything(t *testing.T) {
	s := NewTerminationScheduler()

	var fired atomic.Int32
	s.Arm("a", 20*time.Millisecond, func() { fired.Add(1) })
	s.Arm("b", 20*time.Millisecond, func() { fired.Add(1) })
	s.Shutdown()

	// Arming after shutdown is a no-op.
	s.Arm("c", time.Millisecond, func() { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("timers fired after shutdown: %d", fired.Load())
	}
	if s.Armed("c") {
		t.Fatalf("post-shutdown arm must not register")
	}
}
