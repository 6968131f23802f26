package calls

import (
	"sync"
	"time"
)

// TerminationScheduler owns one timer per active call, firing the
// auto-termination callback when the budget runs out.
//
// It is an injected component with explicit teardown, not a package
// singleton, so a restarted process simply starts empty and lets the
// stale-call sweep enforce any scheduledEndTime it missed. The timer
// is a fast path only; the persisted scheduledEndTime is the truth.
//
// Arm/Cancel are last-writer-cancels: the fire path removes its own
// handle under the lock before running, and Cancel stops-and-removes,
// so an explicit end and a firing timer can never both execute.
type TerminationScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewTerminationScheduler() *TerminationScheduler {
	return &TerminationScheduler{timers: map[string]*time.Timer{}}
}

// Arm schedules fn to run after d. Re-arming an already-armed call
// replaces the previous timer.
func (s *TerminationScheduler) Arm(callID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[callID]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		// Claim the handle first; if Cancel already took it, lose quietly.
		s.mu.Lock()
		cur, ok := s.timers[callID]
		if !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, callID)
		s.mu.Unlock()
		fn()
	})
	s.timers[callID] = t
}

// Cancel stops the call's pending timer. Returns true if a live timer
// was removed, false if it already fired or was never armed.
func (s *TerminationScheduler) Cancel(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[callID]
	if !ok {
		return false
	}
	delete(s.timers, callID)
	t.Stop()
	return true
}

// Armed reports whether the call currently has a pending timer.
func (s *TerminationScheduler) Armed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[callID]
	return ok
}

// Shutdown cancels every pending timer and refuses new ones.
func (s *TerminationScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
