package events

import "yieldvault/core/types"

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP API,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a transaction so they can be released
// only once the transaction commits.
type Buffer struct {
	events []Event
}

// Emit appends the event to the buffer.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Mark returns the current buffer length for a later Truncate.
func (b *Buffer) Mark() int { return len(b.events) }

// Truncate drops every event appended after mark.
func (b *Buffer) Truncate(mark int) {
	if mark < 0 || mark > len(b.events) {
		return
	}
	b.events = b.events[:mark]
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Multi fans every event out to each wrapped emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}
