package checkpoint

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smart-protocol/smart/internal/protocol"
)

// Tracker is the ledger extension that keeps checkpoints in step with
// balances. It runs after every balance move and records one delta for the
// total supply (mint, burn, redeem) and one per affected account.
type Tracker struct {
	store *Store
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) Name() string {
	return "checkpoint"
}

func (t *Tracker) BeforeUpdate(u *protocol.Update) error {
	return nil
}

func (t *Tracker) AfterUpdate(u *protocol.Update) error {
	if u.Amount.IsZero() {
		return nil
	}
	now := t.store.Now()
	amount := u.Amount.ToBig()
	negative := new(big.Int).Neg(amount)

	switch u.Kind {
	case protocol.KindMint:
		if _, err := t.store.RecordDelta(protocol.TotalSupplySubject, amount, now); err != nil {
			return err
		}
	case protocol.KindBurn, protocol.KindRedeem:
		if _, err := t.store.RecordDelta(protocol.TotalSupplySubject, negative, now); err != nil {
			return err
		}
	}

	if u.From != (common.Address{}) {
		if _, err := t.store.RecordDelta(u.From, negative, now); err != nil {
			return err
		}
	}
	if u.To != (common.Address{}) {
		if _, err := t.store.RecordDelta(u.To, amount, now); err != nil {
			return err
		}
	}
	return nil
}
