package node

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/checkpoint"
	"github.com/smart-protocol/smart/internal/custody"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/yield"
)

// Snapshot names in the checkpoint store
const (
	custodySnapshot = "custody"
	engineSnapshot  = "yield"
	assetSnapshot   = "asset"
)

// persist stages the state that checkpoints do not cover and flushes it
// together with the pending checkpoints in one batch.
func (n *Node) persist() error {
	if err := n.stage(custodySnapshot, n.custodian.Export()); err != nil {
		return err
	}
	if n.engine != nil {
		if err := n.stage(engineSnapshot, n.engine.Export()); err != nil {
			return err
		}
		if err := n.stage(assetSnapshot, n.asset.Export()); err != nil {
			return err
		}
	}
	return n.store.Flush()
}

func (n *Node) stage(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", name, err)
	}
	n.store.Stage(name, data)
	return nil
}

// loadSnapshot decodes a named snapshot, nil if the store has none
func loadSnapshot[T any](store *checkpoint.Store, name string) (*T, error) {
	data, err := store.Snapshot(name)
	if err != nil || data == nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", name, err)
	}
	return v, nil
}

// restore rebuilds the ledger from the latest checkpoint of every subject,
// then loads custody and yield state on top of it.
func (n *Node) restore(engineSnap *yield.EngineSnapshot) error {
	subjects, err := n.store.Subjects()
	if err != nil {
		return err
	}
	balances := make(map[common.Address]*uint256.Int, len(subjects))
	for _, subject := range subjects {
		if subject == protocol.TotalSupplySubject {
			continue
		}
		bal, err := n.store.Latest(subject)
		if err != nil {
			return err
		}
		balances[subject] = bal
	}
	supply, err := n.store.Latest(protocol.TotalSupplySubject)
	if err != nil {
		return err
	}
	if err := n.token.Restore(balances, supply); err != nil {
		return err
	}

	custodySnap, err := loadSnapshot[custody.Snapshot](n.store, custodySnapshot)
	if err != nil {
		return err
	}
	if custodySnap != nil {
		if err := n.custodian.Restore(*custodySnap); err != nil {
			return err
		}
	}

	if n.engine != nil {
		assetSnap, err := loadSnapshot[yield.AssetSnapshot](n.store, assetSnapshot)
		if err != nil {
			return err
		}
		if assetSnap != nil {
			if err := n.asset.Restore(*assetSnap); err != nil {
				return err
			}
		}
		if engineSnap != nil {
			if err := n.engine.Restore(*engineSnap); err != nil {
				return err
			}
		}
	}

	log.Printf("[Node] Resumed %s from %d checkpointed accounts, total supply %s", n.cfg.Token.Symbol, len(balances), supply.Dec())
	return nil
}
