package yield

import (
	"fmt"

	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// MintGate is a ledger extension that freezes the token supply once the
// yield schedule has started, so that the supply seen by completed periods
// only changes through transfers, burns and redemptions.
type MintGate struct {
	schedule *Schedule
	clock    state.Clock
}

func NewMintGate(schedule *Schedule, clock state.Clock) *MintGate {
	return &MintGate{schedule: schedule, clock: clock}
}

func (g *MintGate) Name() string {
	return "yield-gate"
}

func (g *MintGate) BeforeUpdate(u *protocol.Update) error {
	if u.Kind != protocol.KindMint {
		return nil
	}
	if now := g.clock.Now(); g.schedule.Started(now) {
		return fmt.Errorf("%w: schedule started at %d", protocol.ErrYieldScheduleActive, g.schedule.Start())
	}
	return nil
}

func (g *MintGate) AfterUpdate(*protocol.Update) error {
	return nil
}
