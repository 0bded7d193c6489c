package node

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smart-protocol/smart/internal/protocol"
)

// Genesis is the initial state of a node: token balances, freezes and
// payment asset balances. Admin must hold the mint and freeze roles.
type Genesis struct {
	Admin       common.Address `json:"admin"`
	Allocations []Allocation   `json:"allocations"`
	Freezes     []Freeze       `json:"freezes,omitempty"`
	Payment     []Allocation   `json:"payment,omitempty"`
}

type Allocation struct {
	Address common.Address `json:"address"`
	Amount  string         `json:"amount"`
}

// Freeze is a partial freeze of Amount, or a full freeze when Full is set
type Freeze struct {
	Address common.Address `json:"address"`
	Amount  string         `json:"amount,omitempty"`
	Full    bool           `json:"full,omitempty"`
}

func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	g := &Genesis{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis file: %w", err)
	}
	return g, nil
}

// Save writes the genesis as indented JSON
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyGenesis runs the genesis through the regular operations, so every
// allocation is checkpointed and every freeze is validated
func (n *Node) applyGenesis(g *Genesis) error {
	for i, a := range g.Allocations {
		amount, err := protocol.ParseAmount(a.Amount)
		if err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
		if err := n.token.Mint(g.Admin, a.Address, amount); err != nil {
			return fmt.Errorf("allocation %d to %s: %w", i, a.Address.Hex(), err)
		}
	}

	for i, f := range g.Freezes {
		if f.Amount != "" {
			amount, err := protocol.ParseAmount(f.Amount)
			if err != nil {
				return fmt.Errorf("freeze %d: %w", i, err)
			}
			if err := n.custodian.FreezePartialTokens(g.Admin, f.Address, amount); err != nil {
				return fmt.Errorf("freeze %d of %s: %w", i, f.Address.Hex(), err)
			}
		}
		if f.Full {
			if err := n.custodian.SetAddressFrozen(g.Admin, f.Address, true); err != nil {
				return fmt.Errorf("freeze %d of %s: %w", i, f.Address.Hex(), err)
			}
		}
	}

	if len(g.Payment) > 0 && n.asset == nil {
		log.Printf("[Node] Genesis has %d payment balances but no yield schedule is configured, skipping", len(g.Payment))
		return nil
	}
	for i, p := range g.Payment {
		amount, err := protocol.ParseAmount(p.Amount)
		if err != nil {
			return fmt.Errorf("payment %d: %w", i, err)
		}
		if err := n.asset.Mint(p.Address, amount); err != nil {
			return fmt.Errorf("payment %d to %s: %w", i, p.Address.Hex(), err)
		}
	}

	log.Printf("[Node] Applied genesis: %d allocations, %d freezes, %d payment balances",
		len(g.Allocations), len(g.Freezes), len(g.Payment))
	return nil
}
