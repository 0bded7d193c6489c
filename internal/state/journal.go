package state

import (
	"github.com/smart-protocol/smart/internal/protocol"
)

// Sink receives the events of committed operations, in emission order
type Sink interface {
	Publish(events []protocol.Event)
}

// Journal gives every ledger operation all-or-nothing semantics.
// Components register an undo closure for each mutation and buffer their
// events here; a failed operation replays the undo log back to its
// snapshot and drops the events it produced. Only the outermost Run
// publishes events.
type Journal struct {
	undo  []func()
	logs  []protocol.Event
	depth int
	sink  Sink
	clock Clock
}

// NewJournal creates a journal that stamps events with clock and
// publishes them to sink. A nil sink discards events.
func NewJournal(clock Clock, sink Sink) *Journal {
	return &Journal{clock: clock, sink: sink}
}

type snapshot struct {
	undo int
	logs int
}

// Clock returns the time source shared by all components on this journal
func (j *Journal) Clock() Clock {
	return j.clock
}

// Append records the inverse of a mutation that has just been applied
func (j *Journal) Append(undo func()) {
	j.undo = append(j.undo, undo)
}

// Emit buffers an event until the outermost operation commits
func (j *Journal) Emit(data protocol.EventData) {
	j.logs = append(j.logs, protocol.NewEvent(data, j.clock.Now()))
}

// Run executes fn as one atomic operation. Nested calls join the
// enclosing operation; if fn fails only its own mutations are reverted.
func (j *Journal) Run(fn func() error) error {
	snap := snapshot{undo: len(j.undo), logs: len(j.logs)}
	j.depth++
	err := fn()
	j.depth--

	if err != nil {
		j.revertTo(snap)
		return err
	}
	if j.depth == 0 {
		j.commit()
	}
	return nil
}

// Pending reports the number of events buffered by the running operation
func (j *Journal) Pending() int {
	return len(j.logs)
}

func (j *Journal) revertTo(snap snapshot) {
	for i := len(j.undo) - 1; i >= snap.undo; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:snap.undo]
	j.logs = j.logs[:snap.logs]
}

func (j *Journal) commit() {
	events := j.logs
	j.undo = nil
	j.logs = nil
	if j.sink != nil && len(events) > 0 {
		j.sink.Publish(events)
	}
}
