package state

import (
	"sync"
	"time"
)

// Clock is the monotonic, non-decreasing time source used for checkpoints
// and yield periods. Values are unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock seconds. It never goes backwards even if
// the host clock does.
type SystemClock struct {
	mu   sync.Mutex
	last uint64
}

func (c *SystemClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := uint64(time.Now().Unix())
	if now > c.last {
		c.last = now
	}
	return c.last
}

// ManualClock is a settable clock for tests and replays
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by d seconds
func (c *ManualClock) Advance(d uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
