package yield

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/checkpoint"
	"github.com/smart-protocol/smart/internal/ledger"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	funder   = common.HexToAddress("0x00000000000000000000000000000000000f0dde")
	holder   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	other    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	engineID = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

type recorder struct {
	events []protocol.Event
}

func (r *recorder) Publish(events []protocol.Event) {
	r.events = append(r.events, events...)
}

func (r *recorder) named(name string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	clock  *state.ManualClock
	sink   *recorder
	token  *ledger.Token
	store  *checkpoint.Store
	asset  *MemoryAsset
	engine *Engine
}

// scenario is the schedule used by most tests: two 50s periods at 10%
var scenario = Config{Start: t0, End: t0 + 100, RateBps: 1000, Interval: 50}

func newFixture(t *testing.T, cfg Config, basis BasisProvider) *fixture {
	t.Helper()
	clock := state.NewManualClock(cfg.Start - 100)
	sink := &recorder{}
	journal := state.NewJournal(clock, sink)

	roles := access.NewRoleTable()
	roles.GrantAll(admin)

	store, err := checkpoint.NewStore("", journal)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	schedule, err := NewSchedule(cfg, clock.Now())
	require.NoError(t, err)

	token := ledger.NewToken("Bond", "BND", 0, journal, roles)
	token.Use(NewMintGate(schedule, clock), checkpoint.NewTracker(store))

	asset := NewMemoryAsset("USD", journal)
	require.NoError(t, asset.Mint(funder, uint256.NewInt(1_000_000)))

	engine := NewEngine(engineID, schedule, basis, Backends{
		History: store,
		Live:    token,
		Asset:   asset,
		Auth:    roles,
		Journal: journal,
	})
	return &fixture{clock: clock, sink: sink, token: token, store: store, asset: asset, engine: engine}
}

func (f *fixture) mint(t *testing.T, to common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.token.Mint(admin, to, uint256.NewInt(amount)))
}

func (f *fixture) fund(t *testing.T, amount uint64) {
	t.Helper()
	require.NoError(t, f.asset.Approve(funder, engineID, uint256.NewInt(amount)))
	require.NoError(t, f.engine.TopUp(funder, uint256.NewInt(amount)))
}

func (f *fixture) at(offset uint64) {
	f.clock.Set(t0 + offset)
}

func unit() BasisProvider {
	return NewFixedBasis(uint256.NewInt(1))
}

func TestClaimYield_TwoCompletedPeriods(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(120)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "200", paid.Dec())
	assert.Equal(t, uint64(2), f.engine.LastClaimedPeriod(holder))
	assert.Equal(t, "200", f.engine.TotalClaimed().Dec())
	assert.Equal(t, "200", f.asset.BalanceOf(holder).Dec())
	assert.Equal(t, "9800", f.engine.Reserve().Dec())

	claims := f.sink.named("YieldClaimed")
	require.Len(t, claims, 1)
	ev := claims[0].Data.(protocol.YieldClaimed)
	assert.Equal(t, uint64(1), ev.FromPeriod)
	assert.Equal(t, uint64(2), ev.ToPeriod)
	require.Len(t, ev.PeriodAmounts, 2)
	assert.Equal(t, "100", ev.PeriodAmounts[0].Dec())
	assert.Equal(t, "100", ev.PeriodAmounts[1].Dec())
	assert.Equal(t, "0", ev.TotalClaimedBefore.Dec())
	assert.Equal(t, "200", ev.TotalClaimedAfter.Dec())

	_, err = f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable)
	assert.Equal(t, protocol.KindResource, protocol.KindOf(err))
	assert.Equal(t, "200", f.engine.TotalClaimed().Dec())
}

func TestClaimYield_BeforeFirstPeriodEnds(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	_, err := f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable)

	f.at(49)
	_, err = f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable)

	accrued, err := f.engine.CalculateAccruedYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "98", accrued.Dec(), "pro-rata only: 1000*1000*49/(50*10000)")
}

func TestClaimYield_UsesBalanceAtPeriodEnd(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(10)
	require.NoError(t, f.token.Transfer(holder, other, uint256.NewInt(400)))
	f.at(60)
	require.NoError(t, f.token.Transfer(other, holder, uint256.NewInt(400)))

	f.at(150)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "160", paid.Dec(), "60 on 600 held at T0+50, 100 on 1000 held at T0+100")

	paid, err = f.engine.ClaimYield(other)
	require.NoError(t, err)
	assert.Equal(t, "40", paid.Dec())
	assert.Equal(t, uint64(2), f.engine.LastClaimedPeriod(other))
}

// Balances can still move within the timepoint a period ends at, so that
// period only becomes claimable one timepoint later. Otherwise the same
// tokens would back one claim before a same-second transfer and another
// one after it.
func TestClaimYield_PeriodEndingNowIsNotSettled(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(50)
	_, err := f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable)
	acc, err := f.engine.Accrual(holder)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.LastCompleted)
	assert.Equal(t, uint64(0), acc.LastSettled)
	assert.True(t, acc.Total.IsZero())

	require.NoError(t, f.token.Transfer(holder, other, uint256.NewInt(1000)))

	f.at(60)
	_, err = f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable, "holder ended period 1 with nothing")
	paid, err := f.engine.ClaimYield(other)
	require.NoError(t, err)
	assert.Equal(t, "100", paid.Dec())

	assert.Equal(t, "100", f.engine.TotalClaimed().Dec(), "period 1 on a supply of 1000")
	unclaimed, err := f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.True(t, unclaimed.IsZero())
	assert.Equal(t, "9900", f.engine.Reserve().Dec())
}

func TestClaimYield_FinalPeriodSettlesAfterEnd(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(100)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "100", paid.Dec(), "period 2 ends now")
	assert.Equal(t, uint64(1), f.engine.LastClaimedPeriod(holder))

	f.at(101)
	paid, err = f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "100", paid.Dec())
	assert.Equal(t, uint64(2), f.engine.LastClaimedPeriod(holder))
}

func TestClaimYield_ShortFinalPeriodPaysFullRate(t *testing.T) {
	f := newFixture(t, Config{Start: t0, End: t0 + 120, RateBps: 1000, Interval: 50}, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(121)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "300", paid.Dec())
	assert.Equal(t, uint64(3), f.engine.LastClaimedPeriod(holder))
}

func TestClaimYield_TruncatesTowardReserve(t *testing.T) {
	cfg := Config{Start: t0, End: t0 + 100, RateBps: 333, Interval: 50}
	f := newFixture(t, cfg, NewFixedBasis(uint256.NewInt(3)))
	f.mint(t, holder, 1001)
	f.mint(t, other, 7)
	f.fund(t, 10_000)

	f.at(101)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "198", paid.Dec(), "1001*3*333/10000 = 99.9999 per period")

	_, err = f.engine.ClaimYield(other)
	require.ErrorIs(t, err, protocol.ErrNoYieldAvailable, "7*3*333/10000 floors to zero")
	assert.Equal(t, uint64(0), f.engine.LastClaimedPeriod(other))
}

func TestClaimYield_InsufficientReserveLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 150)
	f.sink.events = nil

	f.at(120)
	_, err := f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrInsufficientReserve)
	assert.Equal(t, uint64(0), f.engine.LastClaimedPeriod(holder))
	assert.True(t, f.engine.TotalClaimed().IsZero())
	assert.Equal(t, "150", f.engine.Reserve().Dec())
	assert.Empty(t, f.sink.events)
}

func TestClaimYield_ZeroHolder(t *testing.T) {
	f := newFixture(t, scenario, unit())
	_, err := f.engine.ClaimYield(common.Address{})
	require.ErrorIs(t, err, protocol.ErrZeroAddress)
}

// Pro-rata accrual follows the live balance, so two reads inside the
// same period differ when the balance moves in between. Only completed
// periods, read from checkpoints, are ever paid.
func TestCalculateAccruedYield_ProRataFollowsLiveBalance(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(75)
	acc, err := f.engine.Accrual(holder)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.LastCompleted)
	assert.Equal(t, "100", acc.Completed.Dec())
	assert.Equal(t, "50", acc.ProRata.Dec())
	assert.Equal(t, "150", acc.Total.Dec())

	require.NoError(t, f.token.Transfer(holder, other, uint256.NewInt(500)))

	accrued, err := f.engine.CalculateAccruedYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "125", accrued.Dec(), "completed part unchanged, pro-rata on 500")

	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "100", paid.Dec(), "claims never include the pro-rata part")

	accrued, err = f.engine.CalculateAccruedYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "25", accrued.Dec())
}

func TestCalculateAccruedYield_AfterEnd(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)

	f.at(1000)
	acc, err := f.engine.Accrual(holder)
	require.NoError(t, err)
	assert.Equal(t, "200", acc.Total.Dec())
	assert.True(t, acc.ProRata.IsZero())
}

func TestReentrantClaimIsRejected(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)
	f.at(120)

	var inner error
	var claimedDuringPayment uint64
	f.asset.OnTransfer(func(from, to common.Address, amount *uint256.Int) error {
		if to != holder {
			return nil
		}
		claimedDuringPayment = f.engine.LastClaimedPeriod(holder)
		_, inner = f.engine.ClaimYield(holder)
		return nil
	})

	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "200", paid.Dec())
	require.ErrorIs(t, inner, protocol.ErrReentrantCall)
	assert.Equal(t, uint64(2), claimedDuringPayment, "claim state is committed before payment")
	assert.Equal(t, "200", f.asset.BalanceOf(holder).Dec())
}

func TestFailedPaymentRevertsClaim(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)
	f.at(120)

	rejected := errors.New("receiver rejected payment")
	f.asset.OnTransfer(func(from, to common.Address, amount *uint256.Int) error {
		return rejected
	})
	f.sink.events = nil

	_, err := f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, rejected)
	assert.Equal(t, uint64(0), f.engine.LastClaimedPeriod(holder))
	assert.True(t, f.engine.TotalClaimed().IsZero())
	assert.Equal(t, "10000", f.engine.Reserve().Dec())
	assert.True(t, f.asset.BalanceOf(holder).IsZero())
	assert.Empty(t, f.sink.events)

	f.asset.OnTransfer(nil)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "200", paid.Dec())
}

func TestTopUp(t *testing.T) {
	f := newFixture(t, scenario, unit())

	err := f.engine.TopUp(funder, uint256.NewInt(10))
	require.ErrorIs(t, err, protocol.ErrInsufficientAllowance, "no approval")

	require.ErrorIs(t, f.engine.TopUp(common.Address{}, uint256.NewInt(1)), protocol.ErrZeroAddress)
	require.ErrorIs(t, f.engine.TopUp(funder, uint256.NewInt(0)), protocol.ErrZeroAmount)

	f.fund(t, 500)
	assert.Equal(t, "500", f.engine.Reserve().Dec())
	assert.True(t, f.asset.Allowance(funder, engineID).IsZero())

	ups := f.sink.named("ReserveToppedUp")
	require.Len(t, ups, 1)
	ev := ups[0].Data.(protocol.ReserveToppedUp)
	assert.Equal(t, funder, ev.From)
	assert.Equal(t, "0", ev.ReserveBefore.Dec())
	assert.Equal(t, "500", ev.ReserveAfter.Dec())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.fund(t, 1000)

	err := f.engine.Withdraw(holder, holder, uint256.NewInt(1))
	require.ErrorIs(t, err, protocol.ErrUnauthorized)
	assert.Equal(t, protocol.KindAuthorization, protocol.KindOf(err))

	require.ErrorIs(t, f.engine.Withdraw(admin, common.Address{}, uint256.NewInt(1)), protocol.ErrZeroAddress)
	require.ErrorIs(t, f.engine.Withdraw(admin, other, uint256.NewInt(0)), protocol.ErrZeroAmount)
	require.ErrorIs(t, f.engine.Withdraw(admin, other, uint256.NewInt(1001)), protocol.ErrInsufficientReserve)

	require.NoError(t, f.engine.Withdraw(admin, other, uint256.NewInt(300)))
	assert.Equal(t, "700", f.engine.Reserve().Dec())
	assert.Equal(t, "300", f.asset.BalanceOf(other).Dec())

	all, err := f.engine.WithdrawAll(admin, other)
	require.NoError(t, err)
	assert.Equal(t, "700", all.Dec())
	assert.True(t, f.engine.Reserve().IsZero())

	_, err = f.engine.WithdrawAll(admin, other)
	require.ErrorIs(t, err, protocol.ErrZeroAmount)

	outs := f.sink.named("ReserveWithdrawn")
	require.Len(t, outs, 2)
	last := outs[1].Data.(protocol.ReserveWithdrawn)
	assert.Equal(t, "700", last.ReserveBefore.Dec())
	assert.Equal(t, "0", last.ReserveAfter.Dec())
}

func TestPause(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.fund(t, 1000)

	require.ErrorIs(t, f.engine.Pause(holder), protocol.ErrUnauthorized)
	require.ErrorIs(t, f.engine.Unpause(admin), protocol.ErrNotPaused)

	require.NoError(t, f.engine.Pause(admin))
	assert.True(t, f.engine.Paused())
	require.ErrorIs(t, f.engine.Pause(admin), protocol.ErrAlreadyPaused)

	f.at(120)
	_, err := f.engine.ClaimYield(holder)
	require.ErrorIs(t, err, protocol.ErrNotActive)
	require.ErrorIs(t, f.engine.TopUp(funder, uint256.NewInt(1)), protocol.ErrNotActive)
	require.ErrorIs(t, f.engine.Withdraw(admin, other, uint256.NewInt(1)), protocol.ErrNotActive)
	_, err = f.engine.WithdrawAll(admin, other)
	require.ErrorIs(t, err, protocol.ErrNotActive)

	accrued, err := f.engine.CalculateAccruedYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "200", accrued.Dec())
	unclaimed, err := f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.Equal(t, "200", unclaimed.Dec())

	require.NoError(t, f.engine.Unpause(admin))
	_, err = f.engine.ClaimYield(holder)
	require.NoError(t, err)

	assert.Len(t, f.sink.named("Paused"), 1)
	assert.Len(t, f.sink.named("Unpaused"), 1)
}

func TestAggregateViews(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)
	f.mint(t, other, 3000)
	f.fund(t, 10_000)

	f.at(10)
	next, err := f.engine.TotalYieldForNextPeriod()
	require.NoError(t, err)
	assert.Equal(t, "400", next.Dec())

	unclaimed, err := f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.True(t, unclaimed.IsZero())

	f.at(75)
	require.NoError(t, f.token.Redeem(other, uint256.NewInt(2000)))
	next, err = f.engine.TotalYieldForNextPeriod()
	require.NoError(t, err)
	assert.Equal(t, "200", next.Dec(), "projection uses the current supply")

	f.at(120)
	unclaimed, err = f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.Equal(t, "600", unclaimed.Dec(), "400 on 4000 at T0+50, 200 on 2000 at T0+100")

	_, err = f.engine.ClaimYield(holder)
	require.NoError(t, err)
	unclaimed, err = f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.Equal(t, "400", unclaimed.Dec())

	next, err = f.engine.TotalYieldForNextPeriod()
	require.NoError(t, err)
	assert.True(t, next.IsZero(), "no next period after the end")
}

type splitBasis struct {
	holder, supply uint64
}

func (b splitBasis) BasisPerUnit(account common.Address) *uint256.Int {
	if account == (common.Address{}) {
		return uint256.NewInt(b.supply)
	}
	return uint256.NewInt(b.holder)
}

func TestTotalUnclaimedYield_FlooredAtZero(t *testing.T) {
	f := newFixture(t, scenario, splitBasis{holder: 2, supply: 1})
	f.mint(t, holder, 1000)
	f.fund(t, 10_000)

	f.at(120)
	paid, err := f.engine.ClaimYield(holder)
	require.NoError(t, err)
	assert.Equal(t, "400", paid.Dec())

	unclaimed, err := f.engine.TotalUnclaimedYield()
	require.NoError(t, err)
	assert.True(t, unclaimed.IsZero(), "supply-level 200 minus 400 claimed")
}

func TestMintGate(t *testing.T) {
	f := newFixture(t, scenario, unit())
	f.mint(t, holder, 1000)

	f.at(0)
	err := f.token.Mint(admin, holder, uint256.NewInt(1))
	require.ErrorIs(t, err, protocol.ErrYieldScheduleActive)
	assert.Equal(t, protocol.KindState, protocol.KindOf(err))
	assert.Equal(t, "1000", f.token.TotalSupply().Dec())

	require.NoError(t, f.token.Burn(admin, holder, uint256.NewInt(10)))
	require.NoError(t, f.token.Transfer(holder, other, uint256.NewInt(10)))
}
