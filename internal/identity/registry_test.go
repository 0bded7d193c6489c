package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistry_SameVerifiedIdentity(t *testing.T) {
	alice1 := common.HexToAddress("0xa1")
	alice2 := common.HexToAddress("0xa2")
	bob := common.HexToAddress("0xb1")
	unknown := common.HexToAddress("0xc1")

	r := NewRegistry()
	r.Register(alice1, "alice")
	r.Register(alice2, "alice")
	r.Register(bob, "bob")

	if !r.SameVerifiedIdentity(alice1, alice2) {
		t.Error("Expected alice wallets to share an identity")
	}
	if r.SameVerifiedIdentity(alice1, bob) {
		t.Error("Expected alice and bob to differ")
	}
	if r.SameVerifiedIdentity(unknown, unknown) {
		t.Error("Unregistered wallets must never match")
	}

	if id, ok := r.IdentityOf(bob); !ok || id != "bob" {
		t.Errorf("IdentityOf(bob) = %q, %v", id, ok)
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig(map[string][]string{
		"alice": {"0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000a2"},
	})
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}
	if !r.SameVerifiedIdentity(common.HexToAddress("0xa1"), common.HexToAddress("0xa2")) {
		t.Error("Expected configured wallets to match")
	}

	if _, err := NewRegistryFromConfig(map[string][]string{"x": {"bogus"}}); err == nil {
		t.Error("Expected invalid wallet to fail")
	}
}
