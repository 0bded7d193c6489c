package yield

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetSnapshot is the persisted form of a MemoryAsset
type AssetSnapshot struct {
	Supply     *uint256.Int                                       `json:"supply"`
	Balances   map[common.Address]*uint256.Int                    `json:"balances"`
	Allowances map[common.Address]map[common.Address]*uint256.Int `json:"allowances,omitempty"`
}

// Export copies the balances and allowances of the asset
func (a *MemoryAsset) Export() AssetSnapshot {
	snap := AssetSnapshot{
		Supply:   a.supply.Clone(),
		Balances: make(map[common.Address]*uint256.Int, len(a.balances)),
	}
	for account, bal := range a.balances {
		if !bal.IsZero() {
			snap.Balances[account] = bal.Clone()
		}
	}
	for owner, inner := range a.allowances {
		for spender, v := range inner {
			if v.IsZero() {
				continue
			}
			if snap.Allowances == nil {
				snap.Allowances = make(map[common.Address]map[common.Address]*uint256.Int)
			}
			if snap.Allowances[owner] == nil {
				snap.Allowances[owner] = make(map[common.Address]*uint256.Int)
			}
			snap.Allowances[owner][spender] = v.Clone()
		}
	}
	return snap
}

// Restore loads a snapshot taken by Export into an empty asset
func (a *MemoryAsset) Restore(snap AssetSnapshot) error {
	if len(a.balances) > 0 || !a.supply.IsZero() {
		return fmt.Errorf("restore into %s that already holds %s", a.symbol, a.supply.Dec())
	}
	sum := new(uint256.Int)
	for _, bal := range snap.Balances {
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return fmt.Errorf("restored %s balances overflow", a.symbol)
		}
	}
	supply := new(uint256.Int)
	if snap.Supply != nil {
		supply.Set(snap.Supply)
	}
	if !sum.Eq(supply) {
		return fmt.Errorf("restored %s balances add up to %s, supply is %s", a.symbol, sum.Dec(), supply.Dec())
	}

	for account, bal := range snap.Balances {
		a.balances[account] = bal.Clone()
	}
	for owner, inner := range snap.Allowances {
		a.allowances[owner] = make(map[common.Address]*uint256.Int, len(inner))
		for spender, v := range inner {
			a.allowances[owner][spender] = v.Clone()
		}
	}
	a.supply = *supply
	log.Printf("[Asset] %s: restored %d balances, supply %s", a.symbol, len(a.balances), supply.Dec())
	return nil
}

// EngineSnapshot is the persisted form of an Engine, including the
// absolute schedule it was created with
type EngineSnapshot struct {
	Address      common.Address            `json:"address"`
	Schedule     Config                    `json:"schedule"`
	Paused       bool                      `json:"paused,omitempty"`
	TotalClaimed *uint256.Int              `json:"total_claimed"`
	LastClaimed  map[common.Address]uint64 `json:"last_claimed,omitempty"`
}

// Export copies the claim state of the engine
func (e *Engine) Export() EngineSnapshot {
	snap := EngineSnapshot{
		Address:      e.address,
		Schedule:     e.schedule.Config(),
		Paused:       e.paused,
		TotalClaimed: e.totalClaimed.Clone(),
		LastClaimed:  make(map[common.Address]uint64, len(e.lastClaimed)),
	}
	for holder, p := range e.lastClaimed {
		snap.LastClaimed[holder] = p
	}
	return snap
}

// Restore loads a snapshot taken by Export. The engine must have been
// built on the same schedule and address.
func (e *Engine) Restore(snap EngineSnapshot) error {
	if snap.Address != e.address {
		return fmt.Errorf("snapshot of engine %s restored into %s", snap.Address.Hex(), e.address.Hex())
	}
	if snap.Schedule != e.schedule.Config() {
		return fmt.Errorf("snapshot schedule %+v differs from %+v", snap.Schedule, e.schedule.Config())
	}
	if len(e.lastClaimed) > 0 || !e.totalClaimed.IsZero() {
		return fmt.Errorf("restore into an engine that already paid %s", e.totalClaimed.Dec())
	}
	for holder, p := range snap.LastClaimed {
		if p > e.schedule.NumPeriods() {
			return fmt.Errorf("restored claim of %s up to period %d of %d", holder.Hex(), p, e.schedule.NumPeriods())
		}
	}

	for holder, p := range snap.LastClaimed {
		e.lastClaimed[holder] = p
	}
	if snap.TotalClaimed != nil {
		e.totalClaimed.Set(snap.TotalClaimed)
	}
	e.paused = snap.Paused
	log.Printf("[Yield] Restored claims of %d holders, total claimed %s, paused=%v",
		len(e.lastClaimed), e.totalClaimed.Dec(), e.paused)
	return nil
}
