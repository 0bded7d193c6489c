package custody

import (
	"fmt"
	"log"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/identity"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// Ledger is the part of the base ledger custody needs
type Ledger interface {
	BalanceOf(account common.Address) *uint256.Int
	Apply(u protocol.Update) error
	Journal() *state.Journal
}

type freezeState struct {
	fullyFrozen bool
	frozen      uint256.Int
}

// Custodian owns the freeze state of every account. It is registered as a
// ledger extension so standard operations can never spend frozen tokens,
// and it drives forced transfers and lost-wallet recovery through the
// same pipeline with the forced mode set.
type Custodian struct {
	ledger   Ledger
	auth     access.Authorizer
	identity identity.Verifier
	journal  *state.Journal
	states   map[common.Address]*freezeState
	lost     map[common.Address]bool
}

func NewCustodian(ledger Ledger, auth access.Authorizer, verifier identity.Verifier) *Custodian {
	return &Custodian{
		ledger:   ledger,
		auth:     auth,
		identity: verifier,
		journal:  ledger.Journal(),
		states:   make(map[common.Address]*freezeState),
		lost:     make(map[common.Address]bool),
	}
}

// Views

// IsFrozen reports whether account is fully frozen
func (c *Custodian) IsFrozen(account common.Address) bool {
	return c.state(account).fullyFrozen
}

// FrozenTokens returns the partially frozen amount of account
func (c *Custodian) FrozenTokens(account common.Address) *uint256.Int {
	return c.state(account).frozen.Clone()
}

// AvailableBalance is balance minus frozen amount
func (c *Custodian) AvailableBalance(account common.Address) *uint256.Int {
	bal := c.ledger.BalanceOf(account)
	frozen := &c.state(account).frozen
	if bal.Lt(frozen) {
		return new(uint256.Int)
	}
	return bal.Sub(bal, frozen)
}

// State returns a copy of the freeze state of account
func (c *Custodian) State(account common.Address) protocol.FreezeState {
	st := c.state(account)
	return protocol.FreezeState{FullyFrozen: st.fullyFrozen, FrozenAmount: st.frozen.Clone()}
}

// IsLost reports whether wallet was replaced through recovery
func (c *Custodian) IsLost(wallet common.Address) bool {
	return c.lost[wallet]
}

// Snapshot is the persisted form of the custody state
type Snapshot struct {
	Accounts []AccountState   `json:"accounts"`
	Lost     []common.Address `json:"lost,omitempty"`
}

type AccountState struct {
	Address     common.Address `json:"address"`
	FullyFrozen bool           `json:"fully_frozen,omitempty"`
	Frozen      *uint256.Int   `json:"frozen"`
}

// Export returns the freeze state of every account that has one, in
// address order
func (c *Custodian) Export() Snapshot {
	snap := Snapshot{Accounts: make([]AccountState, 0, len(c.states))}
	for account, st := range c.states {
		if !st.fullyFrozen && st.frozen.IsZero() {
			continue
		}
		snap.Accounts = append(snap.Accounts, AccountState{
			Address:     account,
			FullyFrozen: st.fullyFrozen,
			Frozen:      st.frozen.Clone(),
		})
	}
	for wallet := range c.lost {
		snap.Lost = append(snap.Lost, wallet)
	}
	slices.SortFunc(snap.Accounts, func(a, b AccountState) int { return a.Address.Cmp(b.Address) })
	slices.SortFunc(snap.Lost, func(a, b common.Address) int { return a.Cmp(b) })
	return snap
}

// Restore loads a snapshot taken by Export. The ledger balances must
// already be restored: every frozen amount is checked against them.
func (c *Custodian) Restore(snap Snapshot) error {
	if len(c.states) > 0 || len(c.lost) > 0 {
		return fmt.Errorf("restore into a custodian that already holds state")
	}
	states := make(map[common.Address]*freezeState, len(snap.Accounts))
	for _, a := range snap.Accounts {
		st := &freezeState{fullyFrozen: a.FullyFrozen}
		if a.Frozen != nil {
			st.frozen.Set(a.Frozen)
		}
		if bal := c.ledger.BalanceOf(a.Address); bal.Lt(&st.frozen) {
			return fmt.Errorf("%w: restored frozen amount %s of %s exceeds balance %s",
				protocol.ErrInsufficientAvailableBalance, st.frozen.Dec(), a.Address.Hex(), bal.Dec())
		}
		states[a.Address] = st
	}

	c.states = states
	for _, wallet := range snap.Lost {
		c.lost[wallet] = true
	}
	log.Printf("[Custody] Restored %d freeze states, %d lost wallets", len(states), len(snap.Lost))
	return nil
}

// Freeze operations

// SetAddressFrozen sets or clears the full freeze flag of account
func (c *Custodian) SetAddressFrozen(caller, account common.Address, frozen bool) error {
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		return c.setAddressFrozen(account, frozen)
	})
}

// FreezePartialTokens freezes amount of the available balance of account
func (c *Custodian) FreezePartialTokens(caller, account common.Address, amount *uint256.Int) error {
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		return c.freezePartial(account, amount)
	})
}

// UnfreezePartialTokens releases amount of the frozen balance of account
func (c *Custodian) UnfreezePartialTokens(caller, account common.Address, amount *uint256.Int) error {
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		return c.unfreezePartial(account, amount)
	})
}

// BatchSetAddressFrozen applies SetAddressFrozen pairwise; all or nothing
func (c *Custodian) BatchSetAddressFrozen(caller common.Address, accounts []common.Address, frozen []bool) error {
	if len(accounts) != len(frozen) {
		return fmt.Errorf("%w: %d accounts, %d flags", protocol.ErrLengthMismatch, len(accounts), len(frozen))
	}
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		for i := range accounts {
			if err := c.setAddressFrozen(accounts[i], frozen[i]); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

// BatchFreezePartialTokens applies FreezePartialTokens pairwise; all or nothing
func (c *Custodian) BatchFreezePartialTokens(caller common.Address, accounts []common.Address, amounts []*uint256.Int) error {
	if len(accounts) != len(amounts) {
		return fmt.Errorf("%w: %d accounts, %d amounts", protocol.ErrLengthMismatch, len(accounts), len(amounts))
	}
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		for i := range accounts {
			if err := c.freezePartial(accounts[i], amounts[i]); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

// BatchUnfreezePartialTokens applies UnfreezePartialTokens pairwise; all or nothing
func (c *Custodian) BatchUnfreezePartialTokens(caller common.Address, accounts []common.Address, amounts []*uint256.Int) error {
	if len(accounts) != len(amounts) {
		return fmt.Errorf("%w: %d accounts, %d amounts", protocol.ErrLengthMismatch, len(accounts), len(amounts))
	}
	if err := c.auth.Authorize(access.OpFreeze, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		for i := range accounts {
			if err := c.unfreezePartial(accounts[i], amounts[i]); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

// Forced operations

// ForcedTransfer moves amount from from to to regardless of freezes. Any
// part of amount beyond the available balance is unfrozen first.
func (c *Custodian) ForcedTransfer(caller, from, to common.Address, amount *uint256.Int) error {
	if err := c.auth.Authorize(access.OpForcedTransfer, caller); err != nil {
		return err
	}
	return c.forcedTransfer(from, to, amount)
}

// BatchForcedTransfer applies ForcedTransfer to each triple; all or nothing
func (c *Custodian) BatchForcedTransfer(caller common.Address, from, to []common.Address, amounts []*uint256.Int) error {
	if len(from) != len(to) || len(from) != len(amounts) {
		return fmt.Errorf("%w: %d senders, %d recipients, %d amounts", protocol.ErrLengthMismatch, len(from), len(to), len(amounts))
	}
	if err := c.auth.Authorize(access.OpForcedTransfer, caller); err != nil {
		return err
	}
	return c.journal.Run(func() error {
		for i := range from {
			if err := c.forcedTransfer(from[i], to[i], amounts[i]); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
}

// RecoverTokens moves the balance and the freeze state of lostWallet to
// newWallet, which must belong to the same verified identity and hold
// nothing yet. lostWallet is cleared and can no longer receive tokens.
func (c *Custodian) RecoverTokens(caller, lostWallet, newWallet common.Address) error {
	if err := c.auth.Authorize(access.OpRecovery, caller); err != nil {
		return err
	}
	zero := common.Address{}
	if lostWallet == zero || newWallet == zero {
		return fmt.Errorf("%w: recovery wallet", protocol.ErrZeroAddress)
	}
	if lostWallet == newWallet {
		return protocol.ErrSameWallet
	}
	if !c.identity.SameVerifiedIdentity(lostWallet, newWallet) {
		return fmt.Errorf("%w: %s and %s", protocol.ErrIdentityMismatch, lostWallet.Hex(), newWallet.Hex())
	}
	if c.lost[newWallet] {
		return fmt.Errorf("%w: %s was already recovered", protocol.ErrWalletAlreadyLinked, newWallet.Hex())
	}

	balance := c.ledger.BalanceOf(lostWallet)
	if balance.IsZero() {
		return fmt.Errorf("%w: %s", protocol.ErrNoTokensToRecover, lostWallet.Hex())
	}
	dst := c.state(newWallet)
	if !c.ledger.BalanceOf(newWallet).IsZero() || !dst.frozen.IsZero() || dst.fullyFrozen {
		return fmt.Errorf("%w: %s", protocol.ErrRecoveryTargetNotEmpty, newWallet.Hex())
	}

	return c.journal.Run(func() error {
		src := c.state(lostWallet)
		frozen := src.frozen.Clone()
		fullyFrozen := src.fullyFrozen

		c.setFrozen(lostWallet, new(uint256.Int))
		c.setFullyFrozen(lostWallet, false)

		err := c.ledger.Apply(protocol.Update{
			Kind:   protocol.KindTransfer,
			Mode:   protocol.ModeForced,
			From:   lostWallet,
			To:     newWallet,
			Amount: balance,
		})
		if err != nil {
			return err
		}

		c.setFrozen(newWallet, frozen)
		c.setFullyFrozen(newWallet, fullyFrozen)
		c.markLost(lostWallet)

		c.journal.Emit(protocol.RecoverySuccess{
			LostWallet:   lostWallet,
			NewWallet:    newWallet,
			Balance:      balance,
			FrozenAmount: frozen.Clone(),
			FullyFrozen:  fullyFrozen,
		})
		return nil
	})
}

// Ledger extension

func (c *Custodian) Name() string {
	return "custody"
}

// BeforeUpdate enforces freezes on standard updates and consumes the
// frozen shortfall of forced ones.
func (c *Custodian) BeforeUpdate(u *protocol.Update) error {
	if u.To != (common.Address{}) && c.lost[u.To] {
		return fmt.Errorf("%w: %s", protocol.ErrWalletLost, u.To.Hex())
	}

	if u.Forced() {
		if u.From == (common.Address{}) {
			return nil
		}
		return c.releaseShortfall(u.From, u.Amount)
	}

	switch u.Kind {
	case protocol.KindMint:
		if c.IsFrozen(u.To) {
			return fmt.Errorf("%w: %s", protocol.ErrRecipientFrozen, u.To.Hex())
		}
	case protocol.KindTransfer:
		if c.IsFrozen(u.From) {
			return fmt.Errorf("%w: %s", protocol.ErrSenderFrozen, u.From.Hex())
		}
		if c.IsFrozen(u.To) {
			return fmt.Errorf("%w: %s", protocol.ErrRecipientFrozen, u.To.Hex())
		}
		return c.requireAvailable(u.From, u.Amount)
	case protocol.KindBurn, protocol.KindRedeem:
		if c.IsFrozen(u.From) {
			return fmt.Errorf("%w: %s", protocol.ErrSenderFrozen, u.From.Hex())
		}
		return c.requireAvailable(u.From, u.Amount)
	}
	return nil
}

// AfterUpdate re-checks that the sender still holds its frozen amount
func (c *Custodian) AfterUpdate(u *protocol.Update) error {
	if u.From == (common.Address{}) {
		return nil
	}
	if c.ledger.BalanceOf(u.From).Lt(&c.state(u.From).frozen) {
		return fmt.Errorf("%w: frozen amount of %s exceeds balance", protocol.ErrInsufficientAvailableBalance, u.From.Hex())
	}
	return nil
}

// internals

func (c *Custodian) forcedTransfer(from, to common.Address, amount *uint256.Int) error {
	return c.ledger.Apply(protocol.Update{
		Kind:   protocol.KindTransfer,
		Mode:   protocol.ModeForced,
		From:   from,
		To:     to,
		Amount: amount,
	})
}

func (c *Custodian) requireAvailable(account common.Address, amount *uint256.Int) error {
	available := c.AvailableBalance(account)
	if available.Lt(amount) {
		return fmt.Errorf("%w: %s has %s available, needs %s",
			protocol.ErrInsufficientAvailableBalance, account.Hex(), available.Dec(), amount.Dec())
	}
	return nil
}

// releaseShortfall unfreezes whatever part of amount the available balance
// of account cannot cover
func (c *Custodian) releaseShortfall(account common.Address, amount *uint256.Int) error {
	available := c.AvailableBalance(account)
	if !available.Lt(amount) {
		return nil
	}
	shortfall := new(uint256.Int).Sub(amount, available)
	st := c.state(account)
	if st.frozen.Lt(shortfall) {
		return fmt.Errorf("%w: %s has %s frozen, shortfall %s",
			protocol.ErrInsufficientFrozenBalance, account.Hex(), st.frozen.Dec(), shortfall.Dec())
	}
	before := st.frozen.Clone()
	after := new(uint256.Int).Sub(before, shortfall)
	c.setFrozen(account, after)
	c.journal.Emit(protocol.TokensUnfrozen{
		Account:      account,
		Amount:       shortfall,
		FrozenBefore: before,
		FrozenAfter:  after.Clone(),
	})
	return nil
}

func (c *Custodian) setAddressFrozen(account common.Address, frozen bool) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: freeze target", protocol.ErrZeroAddress)
	}
	prev := c.state(account).fullyFrozen
	if prev == frozen {
		return nil
	}
	c.setFullyFrozen(account, frozen)
	c.journal.Emit(protocol.AddressFrozen{Account: account, Previous: prev, Frozen: frozen})
	return nil
}

func (c *Custodian) freezePartial(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: freeze target", protocol.ErrZeroAddress)
	}
	if amount == nil {
		return protocol.ErrInvalidAmount
	}
	available := c.AvailableBalance(account)
	if available.Lt(amount) {
		return fmt.Errorf("%w: %s has %s available, freezing %s",
			protocol.ErrInsufficientAvailableBalance, account.Hex(), available.Dec(), amount.Dec())
	}
	before := c.state(account).frozen.Clone()
	after := new(uint256.Int).Add(before, amount)
	c.setFrozen(account, after)
	c.journal.Emit(protocol.TokensFrozen{
		Account:      account,
		Amount:       amount.Clone(),
		FrozenBefore: before,
		FrozenAfter:  after.Clone(),
	})
	return nil
}

func (c *Custodian) unfreezePartial(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: unfreeze target", protocol.ErrZeroAddress)
	}
	if amount == nil {
		return protocol.ErrInvalidAmount
	}
	before := c.state(account).frozen.Clone()
	if before.Lt(amount) {
		return fmt.Errorf("%w: %s has %s frozen, unfreezing %s",
			protocol.ErrInsufficientFrozenBalance, account.Hex(), before.Dec(), amount.Dec())
	}
	after := new(uint256.Int).Sub(before, amount)
	c.setFrozen(account, after)
	c.journal.Emit(protocol.TokensUnfrozen{
		Account:      account,
		Amount:       amount.Clone(),
		FrozenBefore: before,
		FrozenAfter:  after.Clone(),
	})
	return nil
}

// state returns the freeze state of account, or a zero value if it has none.
// The returned value must not be mutated directly.
func (c *Custodian) state(account common.Address) *freezeState {
	if st, ok := c.states[account]; ok {
		return st
	}
	return &freezeState{}
}

func (c *Custodian) mutable(account common.Address) *freezeState {
	st, ok := c.states[account]
	if !ok {
		st = &freezeState{}
		c.states[account] = st
	}
	return st
}

func (c *Custodian) setFrozen(account common.Address, value *uint256.Int) {
	st := c.mutable(account)
	prev := st.frozen
	st.frozen = *value
	c.journal.Append(func() { st.frozen = prev })
}

func (c *Custodian) setFullyFrozen(account common.Address, value bool) {
	st := c.mutable(account)
	prev := st.fullyFrozen
	st.fullyFrozen = value
	c.journal.Append(func() { st.fullyFrozen = prev })
}

func (c *Custodian) markLost(wallet common.Address) {
	c.lost[wallet] = true
	c.journal.Append(func() { delete(c.lost, wallet) })
}
