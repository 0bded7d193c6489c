package state

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-protocol/smart/internal/protocol"
)

type recordingSink struct {
	batches [][]protocol.Event
}

func (s *recordingSink) Publish(events []protocol.Event) {
	s.batches = append(s.batches, events)
}

func TestJournal_CommitPublishesEvents(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(NewManualClock(100), sink)

	counter := 0
	err := j.Run(func() error {
		counter++
		j.Append(func() { counter-- })
		j.Emit(protocol.Paused{Account: common.HexToAddress("0x01")})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counter)
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 1)
	assert.Equal(t, "Paused", sink.batches[0][0].Name)
	assert.Equal(t, uint64(100), sink.batches[0][0].Timepoint)
	assert.Equal(t, 0, j.Pending())
}

func TestJournal_RevertUndoesInReverseOrder(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(NewManualClock(1), sink)

	var trace []string
	value := 10
	failure := errors.New("boom")

	err := j.Run(func() error {
		prev := value
		value = 20
		j.Append(func() { trace = append(trace, "first"); value = prev })

		prev2 := value
		value = 30
		j.Append(func() { trace = append(trace, "second"); value = prev2 })

		j.Emit(protocol.Paused{})
		return failure
	})

	require.ErrorIs(t, err, failure)
	assert.Equal(t, 10, value)
	assert.Equal(t, []string{"second", "first"}, trace)
	assert.Empty(t, sink.batches)
	assert.Equal(t, 0, j.Pending())
}

func TestJournal_NestedFailureKeepsOuterWork(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(NewManualClock(1), sink)

	outer, inner := 0, 0
	err := j.Run(func() error {
		outer = 1
		j.Append(func() { outer = 0 })
		j.Emit(protocol.Paused{})

		innerErr := j.Run(func() error {
			inner = 1
			j.Append(func() { inner = 0 })
			j.Emit(protocol.Unpaused{})
			return protocol.ErrNotActive
		})
		assert.ErrorIs(t, innerErr, protocol.ErrNotActive)
		assert.Equal(t, 1, j.Pending(), "inner events must be dropped")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, outer)
	assert.Equal(t, 0, inner)
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 1)
	assert.Equal(t, "Paused", sink.batches[0][0].Name)
}

func TestJournal_NestedSuccessPublishesOnce(t *testing.T) {
	sink := &recordingSink{}
	j := NewJournal(NewManualClock(1), sink)

	err := j.Run(func() error {
		j.Emit(protocol.Paused{})
		return j.Run(func() error {
			j.Emit(protocol.Unpaused{})
			return nil
		})
	})
	require.NoError(t, err)
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestJournal_NilSink(t *testing.T) {
	j := NewJournal(NewManualClock(1), nil)
	require.NoError(t, j.Run(func() error {
		j.Emit(protocol.Paused{})
		return nil
	}))
}

func TestGuard_RejectsReentry(t *testing.T) {
	var g Guard
	var innerErr error

	err := g.Do(func() error {
		innerErr = g.Do(func() error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, protocol.ErrReentrantCall)

	// Released after the outer call returns, including on failure
	_ = g.Do(func() error { return errors.New("fail") })
	assert.NoError(t, g.Do(func() error { return nil }))
}

func TestManualClock_Monotonic(t *testing.T) {
	c := NewManualClock(100)
	c.Set(50)
	assert.Equal(t, uint64(100), c.Now())
	c.Set(150)
	assert.Equal(t, uint64(150), c.Now())
	c.Advance(10)
	assert.Equal(t, uint64(160), c.Now())
}

func TestSystemClock_NonDecreasing(t *testing.T) {
	var c SystemClock
	first := c.Now()
	second := c.Now()
	assert.GreaterOrEqual(t, second, first)
	assert.NotZero(t, first)
}
