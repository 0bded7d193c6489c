package yield

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BasisProvider returns the amount of payment asset that one unit of the
// ledger token represents. The zero address asks for the supply-level
// basis used by aggregate views.
type BasisProvider interface {
	BasisPerUnit(holder common.Address) *uint256.Int
}

// FixedBasis gives every holder the same basis
type FixedBasis struct {
	value uint256.Int
}

func NewFixedBasis(value *uint256.Int) *FixedBasis {
	b := &FixedBasis{}
	b.value.Set(value)
	return b
}

func (b *FixedBasis) BasisPerUnit(common.Address) *uint256.Int {
	return b.value.Clone()
}
