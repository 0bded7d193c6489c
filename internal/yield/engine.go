package yield

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

// bpsDenominator is the scale of RateBps
const bpsDenominator = 10000

// HistoricalBalances answers point-in-time queries for past timepoints
type HistoricalBalances interface {
	BalanceAt(account common.Address, t uint64) (*uint256.Int, error)
	TotalSupplyAt(t uint64) (*uint256.Int, error)
}

// LiveLedger exposes the current balances of the ledger token
type LiveLedger interface {
	BalanceOf(account common.Address) *uint256.Int
	TotalSupply() *uint256.Int
}

// Backends are the collaborators of an Engine
type Backends struct {
	History HistoricalBalances
	Live    LiveLedger
	Asset   PaymentAsset
	Auth    access.Authorizer
	Journal *state.Journal
}

// Accrual breaks down the yield of a holder at a point in time
type Accrual struct {
	Holder        common.Address `json:"holder"`
	Timepoint     uint64         `json:"timepoint"`
	LastClaimed   uint64         `json:"last_claimed_period"`
	LastCompleted uint64         `json:"last_completed_period"`
	LastSettled   uint64         `json:"last_settled_period"`
	Completed     *uint256.Int   `json:"completed"`
	ProRata       *uint256.Int   `json:"pro_rata"`
	Total         *uint256.Int   `json:"total"`
}

// Engine pays a fixed rate per completed period on the balance each holder
// had at the end of that period. Payments come from a reserve of the
// payment asset held at the engine's own address.
type Engine struct {
	address  common.Address
	schedule *Schedule
	basis    BasisProvider

	history HistoricalBalances
	live    LiveLedger
	asset   PaymentAsset
	auth    access.Authorizer
	journal *state.Journal
	guard   state.Guard

	paused       bool
	lastClaimed  map[common.Address]uint64
	totalClaimed uint256.Int
}

func NewEngine(address common.Address, schedule *Schedule, basis BasisProvider, b Backends) *Engine {
	return &Engine{
		address:     address,
		schedule:    schedule,
		basis:       basis,
		history:     b.History,
		live:        b.Live,
		asset:       b.Asset,
		auth:        b.Auth,
		journal:     b.Journal,
		lastClaimed: make(map[common.Address]uint64),
	}
}

func (e *Engine) Address() common.Address { return e.address }
func (e *Engine) Schedule() *Schedule     { return e.schedule }
func (e *Engine) Paused() bool            { return e.paused }

// LastClaimedPeriod returns the last period holder has been paid for
func (e *Engine) LastClaimedPeriod(holder common.Address) uint64 {
	return e.lastClaimed[holder]
}

// TotalClaimed returns the sum of all yield paid out
func (e *Engine) TotalClaimed() *uint256.Int {
	return e.totalClaimed.Clone()
}

// Reserve returns the payment asset balance available for claims
func (e *Engine) Reserve() *uint256.Int {
	return e.asset.BalanceOf(e.address)
}

// CalculateAccruedYield returns the unclaimed yield of holder over the
// completed periods plus the pro-rata share of the running period. The
// pro-rata part is informational and cannot be claimed.
func (e *Engine) CalculateAccruedYield(holder common.Address) (*uint256.Int, error) {
	acc, err := e.Accrual(holder)
	if err != nil {
		return nil, err
	}
	return acc.Total, nil
}

// Accrual returns the breakdown behind CalculateAccruedYield. A period
// ending exactly now is neither settled nor running, so it shows up one
// second later.
func (e *Engine) Accrual(holder common.Address) (*Accrual, error) {
	now := e.journal.Clock().Now()
	last := e.lastClaimed[holder]
	settled := e.schedule.LastSettledPeriod(now)

	sum := new(big.Int)
	if settled > last {
		_, s, err := e.completedYield(holder, last+1, settled)
		if err != nil {
			return nil, err
		}
		sum = s
	}
	proRata := e.proRata(holder, now)
	total := new(big.Int).Add(sum, proRata)

	acc := &Accrual{
		Holder:        holder,
		Timepoint:     now,
		LastClaimed:   last,
		LastCompleted: e.schedule.LastCompletedPeriod(now),
		LastSettled:   settled,
	}
	var err error
	if acc.Completed, err = toUint256(sum); err != nil {
		return nil, err
	}
	if acc.ProRata, err = toUint256(proRata); err != nil {
		return nil, err
	}
	if acc.Total, err = toUint256(total); err != nil {
		return nil, err
	}
	return acc, nil
}

// ClaimYield pays holder the yield of every settled period since its last
// claim. A period ending at the current timepoint is not settled yet: its
// checkpoints can still be overwritten within the same timepoint. Claim
// state is committed before the payment asset is moved.
func (e *Engine) ClaimYield(holder common.Address) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.guard.Do(func() error {
		return e.journal.Run(func() error {
			if e.paused {
				return protocol.ErrNotActive
			}
			if holder == (common.Address{}) {
				return protocol.ErrZeroAddress
			}

			now := e.journal.Clock().Now()
			last := e.lastClaimed[holder]
			settled := e.schedule.LastSettledPeriod(now)
			if settled <= last {
				return fmt.Errorf("%w: last claimed period %d, last settled %d", protocol.ErrNoYieldAvailable, last, settled)
			}

			amounts, sum, err := e.completedYield(holder, last+1, settled)
			if err != nil {
				return err
			}
			if sum.Sign() == 0 {
				return fmt.Errorf("%w: periods %d-%d accrued nothing", protocol.ErrNoYieldAvailable, last+1, settled)
			}
			amount, err := toUint256(sum)
			if err != nil {
				return err
			}
			reserve := e.Reserve()
			if reserve.Lt(amount) {
				return fmt.Errorf("%w: reserve %s, claim %s", protocol.ErrInsufficientReserve, reserve.Dec(), amount.Dec())
			}

			before := e.totalClaimed
			after, overflow := new(uint256.Int).AddOverflow(&before, amount)
			if overflow {
				return fmt.Errorf("%w: total claimed", protocol.ErrOverflow)
			}
			e.setLastClaimed(holder, settled)
			e.totalClaimed = *after
			e.journal.Append(func() { e.totalClaimed = before })

			e.journal.Emit(protocol.YieldClaimed{
				Holder:             holder,
				Amount:             amount.Clone(),
				FromPeriod:         last + 1,
				ToPeriod:           settled,
				PeriodAmounts:      amounts,
				TotalClaimedBefore: before.Clone(),
				TotalClaimedAfter:  after.Clone(),
			})

			if err := e.asset.Transfer(e.address, holder, amount); err != nil {
				return fmt.Errorf("pay yield: %w", err)
			}
			log.Printf("[Yield] %s claimed %s for periods %d-%d", holder.Hex(), amount.Dec(), last+1, settled)
			paid = amount
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// TopUp pulls amount of the payment asset from the caller into the
// reserve. The caller must have approved the engine beforehand.
func (e *Engine) TopUp(from common.Address, amount *uint256.Int) error {
	return e.guard.Do(func() error {
		return e.journal.Run(func() error {
			if e.paused {
				return protocol.ErrNotActive
			}
			if from == (common.Address{}) {
				return protocol.ErrZeroAddress
			}
			if amount.IsZero() {
				return protocol.ErrZeroAmount
			}
			before := e.Reserve()
			if err := e.asset.TransferFrom(e.address, from, e.address, amount); err != nil {
				return fmt.Errorf("top up: %w", err)
			}
			e.journal.Emit(protocol.ReserveToppedUp{
				From:          from,
				Amount:        amount.Clone(),
				ReserveBefore: before,
				ReserveAfter:  e.Reserve(),
			})
			return nil
		})
	})
}

// Withdraw sends amount of the reserve to an address
func (e *Engine) Withdraw(caller, to common.Address, amount *uint256.Int) error {
	if err := e.auth.Authorize(access.OpYieldAdmin, caller); err != nil {
		return err
	}
	return e.guard.Do(func() error {
		return e.withdraw(to, amount)
	})
}

// WithdrawAll empties the reserve into an address and returns the amount
func (e *Engine) WithdrawAll(caller, to common.Address) (*uint256.Int, error) {
	if err := e.auth.Authorize(access.OpYieldAdmin, caller); err != nil {
		return nil, err
	}
	amount := e.Reserve()
	err := e.guard.Do(func() error {
		return e.withdraw(to, amount)
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (e *Engine) withdraw(to common.Address, amount *uint256.Int) error {
	return e.journal.Run(func() error {
		if e.paused {
			return protocol.ErrNotActive
		}
		if to == (common.Address{}) {
			return protocol.ErrZeroAddress
		}
		if amount.IsZero() {
			return protocol.ErrZeroAmount
		}
		before := e.Reserve()
		if before.Lt(amount) {
			return fmt.Errorf("%w: reserve %s, requested %s", protocol.ErrInsufficientReserve, before.Dec(), amount.Dec())
		}
		if err := e.asset.Transfer(e.address, to, amount); err != nil {
			return fmt.Errorf("withdraw: %w", err)
		}
		e.journal.Emit(protocol.ReserveWithdrawn{
			To:            to,
			Amount:        amount.Clone(),
			ReserveBefore: before,
			ReserveAfter:  e.Reserve(),
		})
		return nil
	})
}

// Pause stops claims, top-ups and withdrawals. Views keep working.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	if err := e.auth.Authorize(access.OpYieldAdmin, caller); err != nil {
		return err
	}
	return e.journal.Run(func() error {
		if e.paused == paused {
			if paused {
				return protocol.ErrAlreadyPaused
			}
			return protocol.ErrNotPaused
		}
		e.paused = paused
		e.journal.Append(func() { e.paused = !paused })
		if paused {
			e.journal.Emit(protocol.Paused{Account: caller})
		} else {
			e.journal.Emit(protocol.Unpaused{Account: caller})
		}
		log.Printf("[Yield] paused=%v by %s", paused, caller.Hex())
		return nil
	})
}

// TotalUnclaimedYield returns the yield of all settled periods computed
// on the historical total supply, minus what has been claimed, floored at
// zero.
func (e *Engine) TotalUnclaimedYield() (*uint256.Int, error) {
	now := e.journal.Clock().Now()
	settled := e.schedule.LastSettledPeriod(now)
	basis := e.basis.BasisPerUnit(common.Address{}).ToBig()

	total := new(big.Int)
	for p := uint64(1); p <= settled; p++ {
		supply, err := e.history.TotalSupplyAt(e.schedule.periodEnd(p))
		if err != nil {
			return nil, err
		}
		total.Add(total, e.periodYield(supply.ToBig(), basis))
	}
	total.Sub(total, e.totalClaimed.ToBig())
	if total.Sign() < 0 {
		return new(uint256.Int), nil
	}
	return toUint256(total)
}

// TotalYieldForNextPeriod projects one period of yield on the current
// total supply. It is zero once the schedule has ended.
func (e *Engine) TotalYieldForNextPeriod() (*uint256.Int, error) {
	if e.journal.Clock().Now() >= e.schedule.End() {
		return new(uint256.Int), nil
	}
	basis := e.basis.BasisPerUnit(common.Address{}).ToBig()
	return toUint256(e.periodYield(e.live.TotalSupply().ToBig(), basis))
}

// completedYield returns the per-period yield of holder over [from, to]
// and its sum. Every period in the range must have ended before now.
func (e *Engine) completedYield(holder common.Address, from, to uint64) ([]*uint256.Int, *big.Int, error) {
	basis := e.basis.BasisPerUnit(holder).ToBig()
	amounts := make([]*uint256.Int, 0, to-from+1)
	sum := new(big.Int)

	for p := from; p <= to; p++ {
		end, err := e.schedule.PeriodEnd(p)
		if err != nil {
			return nil, nil, err
		}
		bal, err := e.history.BalanceAt(holder, end)
		if err != nil {
			return nil, nil, err
		}
		y := e.periodYield(bal.ToBig(), basis)
		amount, err := toUint256(y)
		if err != nil {
			return nil, nil, err
		}
		amounts = append(amounts, amount)
		sum.Add(sum, y)
	}
	return amounts, sum, nil
}

// proRata is the share of the running period earned so far on the live
// balance. Zero outside the schedule window.
func (e *Engine) proRata(holder common.Address, now uint64) *big.Int {
	s := e.schedule
	if now <= s.Start() || now >= s.End() {
		return new(big.Int)
	}
	current := s.CurrentPeriod(now)
	if current <= s.LastCompletedPeriod(now) {
		return new(big.Int)
	}
	start := s.Start() + (current-1)*s.Interval()
	elapsed := now - start

	y := new(big.Int).Mul(e.live.BalanceOf(holder).ToBig(), e.basis.BasisPerUnit(holder).ToBig())
	y.Mul(y, new(big.Int).SetUint64(s.RateBps()))
	y.Mul(y, new(big.Int).SetUint64(elapsed))
	den := new(big.Int).Mul(new(big.Int).SetUint64(s.Interval()), big.NewInt(bpsDenominator))
	return y.Quo(y, den)
}

// periodYield is balance * basis * rate / 10000, truncated
func (e *Engine) periodYield(balance, basis *big.Int) *big.Int {
	y := new(big.Int).Mul(balance, basis)
	y.Mul(y, new(big.Int).SetUint64(e.schedule.RateBps()))
	return y.Quo(y, big.NewInt(bpsDenominator))
}

func (e *Engine) setLastClaimed(holder common.Address, period uint64) {
	prev, existed := e.lastClaimed[holder]
	e.lastClaimed[holder] = period
	e.journal.Append(func() {
		if existed {
			e.lastClaimed[holder] = prev
		} else {
			delete(e.lastClaimed, holder)
		}
	})
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: yield %s", protocol.ErrOverflow, v.String())
	}
	return out, nil
}
