package events

import (
	"context"
	"sync"
)

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

var _ Publisher = (*Bus)(nil)

// Discard drops every event. Used when KurrentDB is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
