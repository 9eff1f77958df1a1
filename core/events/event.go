package events

import (
	"sync"

	"hedgepool/core/types"
)

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Flattener is implemented by events that can render themselves as a
// broadcastable attribute map.
type Flattener interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (logs, metrics, API).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Flatten converts an event into its attribute form. Events without a
// Flattener implementation only carry their type.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if f, ok := evt.(Flattener); ok {
		if out := f.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// emitted stream.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in emission order.
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, evt := range evts {
		out[i] = evt.EventType()
	}
	return out
}

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
