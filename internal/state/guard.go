package state

import "github.com/smart-protocol/smart/internal/protocol"

// Guard rejects re-entry into a component while one of its state-changing
// operations is still on the stack (for example from a payment asset
// callback).
type Guard struct {
	entered bool
}

// Do runs fn unless the guard is already held
func (g *Guard) Do(fn func() error) error {
	if g.entered {
		return protocol.ErrReentrantCall
	}
	g.entered = true
	defer func() { g.entered = false }()
	return fn()
}
