package ledger

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// Extension plugs into the balance pipeline of a Token. Before hooks may
// reject an update or, for forced updates, adjust their own state; after
// hooks observe the committed balance move. Any error aborts the whole
// operation.
type Extension interface {
	Name() string
	BeforeUpdate(u *protocol.Update) error
	AfterUpdate(u *protocol.Update) error
}

// Token is the base fungible ledger. Every mint, burn, transfer and
// redemption goes through Apply, which runs the extensions in the order
// they were registered.
type Token struct {
	name     string
	symbol   string
	decimals uint8

	journal    *state.Journal
	auth       access.Authorizer
	balances   map[common.Address]*uint256.Int
	supply     uint256.Int
	extensions []Extension
}

func NewToken(name, symbol string, decimals uint8, journal *state.Journal, auth access.Authorizer) *Token {
	return &Token{
		name:     name,
		symbol:   symbol,
		decimals: decimals,
		journal:  journal,
		auth:     auth,
		balances: make(map[common.Address]*uint256.Int),
	}
}

// Use appends extensions to the pipeline
func (t *Token) Use(exts ...Extension) {
	for _, ext := range exts {
		log.Printf("[Ledger] %s: registered extension %s", t.symbol, ext.Name())
		t.extensions = append(t.extensions, ext)
	}
}

// ExtensionNames returns the pipeline in execution order
func (t *Token) ExtensionNames() []string {
	names := make([]string, len(t.extensions))
	for i, ext := range t.extensions {
		names[i] = ext.Name()
	}
	return names
}

func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) Journal() *state.Journal { return t.journal }

// BalanceOf returns a copy of the balance of account
func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	if bal, ok := t.balances[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns a copy of the total supply
func (t *Token) TotalSupply() *uint256.Int {
	return t.supply.Clone()
}

// Holders returns every account with a non-zero balance
func (t *Token) Holders() []common.Address {
	holders := make([]common.Address, 0, len(t.balances))
	for addr, bal := range t.balances {
		if !bal.IsZero() {
			holders = append(holders, addr)
		}
	}
	return holders
}

// Restore loads balances persisted by an earlier run into an empty token.
// It bypasses the pipeline and the journal; the balances must add up to
// supply.
func (t *Token) Restore(balances map[common.Address]*uint256.Int, supply *uint256.Int) error {
	if len(t.balances) > 0 || !t.supply.IsZero() {
		return fmt.Errorf("restore into a token that already holds %s", t.supply.Dec())
	}
	sum := new(uint256.Int)
	for account, bal := range balances {
		if account == (common.Address{}) || account == protocol.TotalSupplySubject {
			return fmt.Errorf("%w: restored balance of %s", protocol.ErrZeroAddress, account.Hex())
		}
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return fmt.Errorf("%w: restored balances", protocol.ErrOverflow)
		}
	}
	if !sum.Eq(supply) {
		return fmt.Errorf("restored balances add up to %s, total supply is %s", sum.Dec(), supply.Dec())
	}

	for account, bal := range balances {
		if !bal.IsZero() {
			t.balances[account] = bal.Clone()
		}
	}
	t.supply.Set(supply)
	log.Printf("[Ledger] %s: restored %d balances, total supply %s", t.symbol, len(t.balances), supply.Dec())
	return nil
}

// Mint creates amount tokens for to
func (t *Token) Mint(caller, to common.Address, amount *uint256.Int) error {
	if err := t.auth.Authorize(access.OpMint, caller); err != nil {
		return err
	}
	return t.Apply(protocol.Update{Kind: protocol.KindMint, To: to, Amount: amount})
}

// Burn destroys amount tokens held by from
func (t *Token) Burn(caller, from common.Address, amount *uint256.Int) error {
	if err := t.auth.Authorize(access.OpBurn, caller); err != nil {
		return err
	}
	return t.Apply(protocol.Update{Kind: protocol.KindBurn, From: from, Amount: amount})
}

// Transfer moves amount from the sender to to
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.Apply(protocol.Update{Kind: protocol.KindTransfer, From: from, To: to, Amount: amount})
}

// Redeem lets a holder burn its own tokens
func (t *Token) Redeem(holder common.Address, amount *uint256.Int) error {
	return t.Apply(protocol.Update{Kind: protocol.KindRedeem, From: holder, Amount: amount})
}

// Apply runs one update through the pipeline as a single atomic operation
func (t *Token) Apply(u protocol.Update) error {
	if err := validate(&u); err != nil {
		return err
	}

	return t.journal.Run(func() error {
		for _, ext := range t.extensions {
			if err := ext.BeforeUpdate(&u); err != nil {
				return fmt.Errorf("%s: %w", ext.Name(), err)
			}
		}

		if err := t.move(&u); err != nil {
			return err
		}

		for _, ext := range t.extensions {
			if err := ext.AfterUpdate(&u); err != nil {
				return fmt.Errorf("%s: %w", ext.Name(), err)
			}
		}
		return nil
	})
}

// move performs the bookkeeping of an update
func (t *Token) move(u *protocol.Update) error {
	zero := common.Address{}

	if u.From != zero {
		bal := t.BalanceOf(u.From)
		if bal.Lt(u.Amount) {
			return fmt.Errorf("%w: %s holds %s, needs %s", protocol.ErrInsufficientBalance, u.From.Hex(), bal.Dec(), u.Amount.Dec())
		}
		t.setBalance(u.From, new(uint256.Int).Sub(bal, u.Amount))
	}

	if u.To != zero {
		next, overflow := new(uint256.Int).AddOverflow(t.BalanceOf(u.To), u.Amount)
		if overflow {
			return fmt.Errorf("%w: balance of %s", protocol.ErrOverflow, u.To.Hex())
		}
		t.setBalance(u.To, next)
	}

	switch u.Kind {
	case protocol.KindMint:
		next, overflow := new(uint256.Int).AddOverflow(&t.supply, u.Amount)
		if overflow {
			return fmt.Errorf("%w: total supply", protocol.ErrOverflow)
		}
		t.setSupply(next)
	case protocol.KindBurn, protocol.KindRedeem:
		t.setSupply(new(uint256.Int).Sub(&t.supply, u.Amount))
	}

	t.journal.Emit(protocol.Transfer{
		Kind:   u.Kind,
		Mode:   u.Mode.String(),
		From:   u.From,
		To:     u.To,
		Amount: u.Amount.Clone(),
	})
	return nil
}

func (t *Token) setBalance(account common.Address, value *uint256.Int) {
	prev, existed := t.balances[account]
	t.balances[account] = value
	t.journal.Append(func() {
		if existed {
			t.balances[account] = prev
		} else {
			delete(t.balances, account)
		}
	})
}

func (t *Token) setSupply(value *uint256.Int) {
	prev := t.supply
	t.supply = *value
	t.journal.Append(func() { t.supply = prev })
}

func validate(u *protocol.Update) error {
	if u.Amount == nil {
		return protocol.ErrInvalidAmount
	}
	zero := common.Address{}
	switch u.Kind {
	case protocol.KindMint:
		if u.To == zero || u.From != zero {
			return fmt.Errorf("%w: mint recipient", protocol.ErrZeroAddress)
		}
	case protocol.KindBurn, protocol.KindRedeem:
		if u.From == zero || u.To != zero {
			return fmt.Errorf("%w: %s holder", protocol.ErrZeroAddress, u.Kind)
		}
	case protocol.KindTransfer:
		if u.From == zero || u.To == zero {
			return fmt.Errorf("%w: transfer party", protocol.ErrZeroAddress)
		}
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownUpdateKind, u.Kind)
	}
	if u.To == protocol.TotalSupplySubject || u.From == protocol.TotalSupplySubject {
		return fmt.Errorf("%w: reserved total supply address", protocol.ErrZeroAddress)
	}
	return nil
}
