package yield

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// PaymentAsset is the asset yield is paid in. It may be a different asset
// than the ledger token.
type PaymentAsset interface {
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// TransferHook is called after every balance move of a MemoryAsset, the
// way a token with receiver callbacks hands control to the recipient.
type TransferHook func(from, to common.Address, amount *uint256.Int) error

// MemoryAsset is an in-memory fungible asset with allowances. Mutations
// are recorded on the journal, so they revert with the operation that
// made them.
type MemoryAsset struct {
	symbol     string
	journal    *state.Journal
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     uint256.Int
	onTransfer TransferHook
}

func NewMemoryAsset(symbol string, journal *state.Journal) *MemoryAsset {
	return &MemoryAsset{
		symbol:     symbol,
		journal:    journal,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (a *MemoryAsset) Symbol() string { return a.symbol }

// OnTransfer installs the transfer callback; nil removes it
func (a *MemoryAsset) OnTransfer(hook TransferHook) {
	a.onTransfer = hook
}

func (a *MemoryAsset) BalanceOf(account common.Address) *uint256.Int {
	if bal, ok := a.balances[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (a *MemoryAsset) TotalSupply() *uint256.Int {
	return a.supply.Clone()
}

// Mint credits amount to an account out of thin air (faucet)
func (a *MemoryAsset) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return protocol.ErrZeroAddress
	}
	return a.run(func() error {
		next, overflow := new(uint256.Int).AddOverflow(&a.supply, amount)
		if overflow {
			return fmt.Errorf("%w: %s supply", protocol.ErrOverflow, a.symbol)
		}
		prev := a.supply
		a.supply = *next
		a.undo(func() { a.supply = prev })
		if err := a.credit(to, amount); err != nil {
			return err
		}
		log.Printf("[Asset] %s: minted %s to %s", a.symbol, amount.Dec(), to.Hex())
		return nil
	})
}

// Approve sets the amount spender may move out of owner's balance
func (a *MemoryAsset) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return protocol.ErrZeroAddress
	}
	return a.run(func() error {
		a.setAllowance(owner, spender, amount.Clone())
		return nil
	})
}

func (a *MemoryAsset) Allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := a.allowances[owner][spender]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (a *MemoryAsset) Transfer(from, to common.Address, amount *uint256.Int) error {
	return a.run(func() error {
		return a.move(from, to, amount)
	})
}

// TransferFrom moves amount from from to to on behalf of spender,
// consuming allowance.
func (a *MemoryAsset) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	return a.run(func() error {
		allowed := a.Allowance(from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allows %s to spend %s, needs %s",
				protocol.ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowed.Dec(), amount.Dec())
		}
		a.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
		return a.move(from, to, amount)
	})
}

func (a *MemoryAsset) move(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return protocol.ErrZeroAddress
	}
	bal := a.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s",
			protocol.ErrInsufficientBalance, from.Hex(), bal.Dec(), a.symbol, amount.Dec())
	}
	a.setBalance(from, new(uint256.Int).Sub(bal, amount))
	if err := a.credit(to, amount); err != nil {
		return err
	}
	if a.onTransfer != nil {
		return a.onTransfer(from, to, amount.Clone())
	}
	return nil
}

func (a *MemoryAsset) credit(to common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(a.BalanceOf(to), amount)
	if overflow {
		return fmt.Errorf("%w: %s balance of %s", protocol.ErrOverflow, a.symbol, to.Hex())
	}
	a.setBalance(to, next)
	return nil
}

func (a *MemoryAsset) setBalance(account common.Address, value *uint256.Int) {
	prev, existed := a.balances[account]
	a.balances[account] = value
	a.undo(func() {
		if existed {
			a.balances[account] = prev
		} else {
			delete(a.balances, account)
		}
	})
}

func (a *MemoryAsset) setAllowance(owner, spender common.Address, value *uint256.Int) {
	inner, ok := a.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*uint256.Int)
		a.allowances[owner] = inner
	}
	prev, existed := inner[spender]
	inner[spender] = value
	a.undo(func() {
		if existed {
			inner[spender] = prev
		} else {
			delete(inner, spender)
		}
	})
}

func (a *MemoryAsset) run(fn func() error) error {
	if a.journal == nil {
		return fn()
	}
	return a.journal.Run(fn)
}

func (a *MemoryAsset) undo(fn func()) {
	if a.journal != nil {
		a.journal.Append(fn)
	}
}
