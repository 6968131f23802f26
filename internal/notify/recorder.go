package notify

import (
	"context"
	"sync"
)

// Recorder captures events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	UserID  string
	Event   string
	Payload CallEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(ctx context.Context, userID, event string, payload CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{UserID: userID, Event: event, Payload: payload})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}
