package identity

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Verifier answers whether two wallets belong to one verified identity.
// Lost-wallet recovery is only allowed between such wallets.
type Verifier interface {
	SameVerifiedIdentity(a, b common.Address) bool
}

// Registry is a static wallet -> identity mapping. Claim verification
// happens upstream; a wallet is registered only once it is verified.
type Registry struct {
	mu      sync.RWMutex
	wallets map[common.Address]string
}

func NewRegistry() *Registry {
	return &Registry{wallets: make(map[common.Address]string)}
}

// NewRegistryFromConfig builds a registry from identity id -> hex wallets
func NewRegistryFromConfig(identities map[string][]string) (*Registry, error) {
	r := NewRegistry()
	for id, wallets := range identities {
		for _, w := range wallets {
			if !common.IsHexAddress(w) {
				return nil, fmt.Errorf("invalid wallet %q for identity %q", w, id)
			}
			r.Register(common.HexToAddress(w), id)
		}
	}
	return r, nil
}

// Register links wallet to the verified identity id
func (r *Registry) Register(wallet common.Address, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[wallet] = id
}

// IdentityOf returns the identity a wallet is linked to
func (r *Registry) IdentityOf(wallet common.Address) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.wallets[wallet]
	return id, ok
}

func (r *Registry) SameVerifiedIdentity(a, b common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idA, okA := r.wallets[a]
	idB, okB := r.wallets[b]
	return okA && okB && idA == idB
}
