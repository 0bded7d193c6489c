package eventlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/protocol"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s, path
}

func sampleEvents() []protocol.Event {
	return []protocol.Event{
		protocol.NewEvent(protocol.Transfer{
			Kind: protocol.KindMint, Mode: "standard", To: alice, Amount: uint256.NewInt(100),
		}, 10),
		protocol.NewEvent(protocol.TokensFrozen{
			Account: alice, Amount: uint256.NewInt(40), FrozenBefore: uint256.NewInt(0), FrozenAfter: uint256.NewInt(40),
		}, 11),
		protocol.NewEvent(protocol.Transfer{
			Kind: protocol.KindTransfer, Mode: "standard", From: alice, To: bob, Amount: uint256.NewInt(60),
		}, 12),
	}
}

func TestAppendAndList(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()

	events := sampleEvents()
	if err := s.Append(ctx, events); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	records, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.ID != events[i].ID || r.Name != events[i].Name || r.Topic != events[i].Topic {
			t.Errorf("record %d: got %s/%s/%s, want %s/%s/%s", i, r.ID, r.Name, r.Topic.Hex(), events[i].ID, events[i].Name, events[i].Topic.Hex())
		}
		if r.Timepoint != events[i].Timepoint {
			t.Errorf("record %d: timepoint %d, want %d", i, r.Timepoint, events[i].Timepoint)
		}
		if i > 0 && r.Seq <= records[i-1].Seq {
			t.Errorf("records out of order at %d", i)
		}
	}

	var frozen protocol.TokensFrozen
	if err := json.Unmarshal(records[1].Data, &frozen); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if frozen.Account != alice || frozen.FrozenAfter.Uint64() != 40 {
		t.Errorf("unexpected payload %+v", frozen)
	}
}

func TestList_Filters(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Append(ctx, sampleEvents()); err != nil {
		t.Fatal(err)
	}

	transfers, err := s.List(ctx, Filter{Name: "Transfer"})
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(transfers))
	}

	since, err := s.List(ctx, Filter{Since: 11})
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("expected 2 events since 11, got %d", len(since))
	}

	page, err := s.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 event, got %d", len(page))
	}
	rest, err := s.List(ctx, Filter{AfterSeq: page[0].Seq})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 events after first page, got %d", len(rest))
	}

	none, err := s.List(ctx, Filter{Name: "RecoverySuccess"})
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", none)
	}
}

func TestPublish_IgnoresDuplicatesAndPersists(t *testing.T) {
	s, path := openTemp(t)
	events := sampleEvents()

	s.Publish(events)
	s.Publish(events[:1])
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 events after reopen, got %d", n)
	}
}
