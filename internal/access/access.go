package access

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smart-protocol/smart/internal/protocol"
)

// Operation names a privileged capability
type Operation string

const (
	OpMint           Operation = "mint"
	OpBurn           Operation = "burn"
	OpFreeze         Operation = "freeze"
	OpForcedTransfer Operation = "forced_transfer"
	OpRecovery       Operation = "recovery"
	OpYieldAdmin     Operation = "yield_admin"
)

// Operations lists every capability that can be granted
var Operations = []Operation{OpMint, OpBurn, OpFreeze, OpForcedTransfer, OpRecovery, OpYieldAdmin}

// Authorizer is consulted before every privileged operation
type Authorizer interface {
	Authorize(op Operation, caller common.Address) error
}

// RoleTable grants capabilities to individual addresses
type RoleTable struct {
	mu    sync.RWMutex
	roles map[Operation]map[common.Address]bool
}

func NewRoleTable() *RoleTable {
	return &RoleTable{roles: make(map[Operation]map[common.Address]bool)}
}

// NewRoleTableFromConfig builds a table from operation name -> hex addresses
func NewRoleTableFromConfig(roles map[string][]string) (*RoleTable, error) {
	t := NewRoleTable()
	for name, addrs := range roles {
		op := Operation(name)
		if !known(op) {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("invalid address %q for operation %q", a, name)
			}
			t.Grant(op, common.HexToAddress(a))
		}
	}
	return t, nil
}

// Grant gives caller the capability op
func (t *RoleTable) Grant(op Operation, caller common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.roles[op] == nil {
		t.roles[op] = make(map[common.Address]bool)
	}
	t.roles[op][caller] = true
}

// GrantAll gives caller every capability
func (t *RoleTable) GrantAll(caller common.Address) {
	for _, op := range Operations {
		t.Grant(op, caller)
	}
}

// Revoke removes the capability op from caller
func (t *RoleTable) Revoke(op Operation, caller common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.roles[op], caller)
}

func (t *RoleTable) Authorize(op Operation, caller common.Address) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.roles[op][caller] {
		return nil
	}
	return fmt.Errorf("%w: %s lacks %s", protocol.ErrUnauthorized, caller.Hex(), op)
}

func known(op Operation) bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}
