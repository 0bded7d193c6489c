package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

var (
	minter = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type sink struct {
	events []protocol.Event
}

func (s *sink) Publish(events []protocol.Event) {
	s.events = append(s.events, events...)
}

// recorder is an extension that logs hook calls and can fail on demand
type recorder struct {
	name      string
	calls     *[]string
	failAfter bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) BeforeUpdate(u *protocol.Update) error {
	*r.calls = append(*r.calls, r.name+".before."+string(u.Kind))
	return nil
}

func (r *recorder) AfterUpdate(u *protocol.Update) error {
	*r.calls = append(*r.calls, r.name+".after."+string(u.Kind))
	if r.failAfter {
		return protocol.ErrNotActive
	}
	return nil
}

func newTestToken() (*Token, *sink) {
	roles := access.NewRoleTable()
	roles.GrantAll(minter)
	s := &sink{}
	journal := state.NewJournal(state.NewManualClock(1000), s)
	return NewToken("Bond", "BND", 18, journal, roles), s
}

func TestToken_MintTransferBurn(t *testing.T) {
	tok, s := newTestToken()

	if err := tok.Mint(minter, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := tok.Transfer(alice, bob, uint256.NewInt(30)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if err := tok.Burn(minter, bob, uint256.NewInt(10)); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if err := tok.Redeem(alice, uint256.NewInt(20)); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	if got := tok.BalanceOf(alice).Dec(); got != "50" {
		t.Errorf("Expected alice balance 50, got %s", got)
	}
	if got := tok.BalanceOf(bob).Dec(); got != "20" {
		t.Errorf("Expected bob balance 20, got %s", got)
	}
	if got := tok.TotalSupply().Dec(); got != "70" {
		t.Errorf("Expected supply 70, got %s", got)
	}
	if len(s.events) != 4 {
		t.Fatalf("Expected 4 Transfer events, got %d", len(s.events))
	}
	last := s.events[3].Data.(protocol.Transfer)
	if last.Kind != protocol.KindRedeem || last.From != alice || last.To != (common.Address{}) {
		t.Errorf("Unexpected redeem event %+v", last)
	}
}

func TestToken_BalanceCopiesAreIndependent(t *testing.T) {
	tok, _ := newTestToken()
	tok.Mint(minter, alice, uint256.NewInt(5))

	bal := tok.BalanceOf(alice)
	bal.SetUint64(1000)
	if tok.BalanceOf(alice).Uint64() != 5 {
		t.Error("Mutating a returned balance must not change the ledger")
	}
}

func TestToken_InsufficientBalance(t *testing.T) {
	tok, _ := newTestToken()
	tok.Mint(minter, alice, uint256.NewInt(10))

	err := tok.Transfer(alice, bob, uint256.NewInt(11))
	if !errors.Is(err, protocol.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	if tok.BalanceOf(alice).Uint64() != 10 || !tok.BalanceOf(bob).IsZero() {
		t.Error("Failed transfer must not move funds")
	}
}

func TestToken_Validation(t *testing.T) {
	tok, _ := newTestToken()
	zero := common.Address{}

	cases := []struct {
		name string
		u    protocol.Update
		want error
	}{
		{"mint to zero", protocol.Update{Kind: protocol.KindMint, Amount: uint256.NewInt(1)}, protocol.ErrZeroAddress},
		{"burn from zero", protocol.Update{Kind: protocol.KindBurn, From: zero, Amount: uint256.NewInt(1)}, protocol.ErrZeroAddress},
		{"transfer to zero", protocol.Update{Kind: protocol.KindTransfer, From: alice, Amount: uint256.NewInt(1)}, protocol.ErrZeroAddress},
		{"mint to supply sentinel", protocol.Update{Kind: protocol.KindMint, To: protocol.TotalSupplySubject, Amount: uint256.NewInt(1)}, protocol.ErrZeroAddress},
		{"nil amount", protocol.Update{Kind: protocol.KindMint, To: alice}, protocol.ErrInvalidAmount},
		{"unknown kind", protocol.Update{Kind: "swap", From: alice, To: bob, Amount: uint256.NewInt(1)}, protocol.ErrUnknownUpdateKind},
	}
	for _, tc := range cases {
		if err := tok.Apply(tc.u); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestToken_MintRequiresAuthorization(t *testing.T) {
	tok, _ := newTestToken()
	if err := tok.Mint(alice, alice, uint256.NewInt(1)); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if err := tok.Burn(alice, alice, uint256.NewInt(1)); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestToken_ExtensionOrder(t *testing.T) {
	tok, _ := newTestToken()
	var calls []string
	tok.Use(&recorder{name: "a", calls: &calls}, &recorder{name: "b", calls: &calls})

	if err := tok.Mint(minter, alice, uint256.NewInt(1)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	want := []string{"a.before.mint", "b.before.mint", "a.after.mint", "b.after.mint"}
	if len(calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}

	names := tok.ExtensionNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Unexpected extension names %v", names)
	}
}

func TestToken_AfterHookFailureRevertsMove(t *testing.T) {
	tok, s := newTestToken()
	var calls []string
	tok.Mint(minter, alice, uint256.NewInt(10))
	s.events = nil
	tok.Use(&recorder{name: "failing", calls: &calls, failAfter: true})

	err := tok.Transfer(alice, bob, uint256.NewInt(4))
	if !errors.Is(err, protocol.ErrNotActive) {
		t.Fatalf("Expected hook error, got %v", err)
	}
	if tok.BalanceOf(alice).Uint64() != 10 {
		t.Errorf("Expected alice balance restored to 10, got %s", tok.BalanceOf(alice).Dec())
	}
	if !tok.BalanceOf(bob).IsZero() {
		t.Errorf("Expected bob balance restored to 0, got %s", tok.BalanceOf(bob).Dec())
	}
	if len(s.events) != 0 {
		t.Errorf("Expected no events from reverted transfer, got %d", len(s.events))
	}
	if len(tok.Holders()) != 1 {
		t.Errorf("Expected only alice as holder, got %v", tok.Holders())
	}
}

func TestToken_MintOverflow(t *testing.T) {
	tok, _ := newTestToken()
	max := new(uint256.Int).SetAllOne()
	if err := tok.Mint(minter, alice, max); err != nil {
		t.Fatalf("Mint max failed: %v", err)
	}
	err := tok.Mint(minter, bob, uint256.NewInt(1))
	if !errors.Is(err, protocol.ErrOverflow) {
		t.Fatalf("Expected ErrOverflow, got %v", err)
	}
	if !tok.BalanceOf(bob).IsZero() {
		t.Error("Overflowing mint must not credit the recipient")
	}
}

func TestToken_Restore(t *testing.T) {
	tok, s := newTestToken()

	err := tok.Restore(map[common.Address]*uint256.Int{
		alice: uint256.NewInt(70),
		bob:   uint256.NewInt(30),
	}, uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 70 {
		t.Errorf("Expected alice 70, got %d", got)
	}
	if got := tok.TotalSupply().Uint64(); got != 100 {
		t.Errorf("Expected supply 100, got %d", got)
	}
	if len(s.events) != 0 {
		t.Errorf("Restore emitted %d events", len(s.events))
	}

	if err := tok.Transfer(alice, bob, uint256.NewInt(10)); err != nil {
		t.Fatalf("Transfer after restore: %v", err)
	}
	if err := tok.Restore(nil, new(uint256.Int)); err == nil {
		t.Error("Expected restore into a non-empty token to fail")
	}
}

func TestToken_RestoreRejectsInconsistentSupply(t *testing.T) {
	tok, _ := newTestToken()

	err := tok.Restore(map[common.Address]*uint256.Int{alice: uint256.NewInt(70)}, uint256.NewInt(100))
	if err == nil {
		t.Fatal("Expected mismatched supply to fail")
	}
	if !tok.TotalSupply().IsZero() || !tok.BalanceOf(alice).IsZero() {
		t.Error("Failed restore left state behind")
	}
}
