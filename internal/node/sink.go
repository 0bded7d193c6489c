package node

import (
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// Fanout publishes to every sink in order
type Fanout []state.Sink

func (f Fanout) Publish(events []protocol.Event) {
	for _, sink := range f {
		sink.Publish(events)
	}
}

// opRecorder captures the events committed by the operation in progress
// so they can be attached to its receipt.
type opRecorder struct {
	events []protocol.Event
}

func (r *opRecorder) Publish(events []protocol.Event) {
	r.events = append(r.events, events...)
}

func (r *opRecorder) take() []protocol.Event {
	events := r.events
	r.events = nil
	return events
}
