package events

import "janus/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render their canonical typed
// payload for journals and subscribers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journal, streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans a single Emit out to every wrapped emitter in order. Nil entries
// are skipped.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// PayloadOf extracts the typed payload of an event when available.
func PayloadOf(evt Event) (*types.Event, bool) {
	p, ok := evt.(Payload)
	if !ok {
		return nil, false
	}
	payload := p.Event()
	if payload == nil {
		return nil, false
	}
	return payload, true
}
