package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventData is the typed payload of a notification
type EventData interface {
	// Signature is the canonical event signature hashed into the topic
	Signature() string
}

// Event is a structured state change notification. Payloads carry both the
// previous and the new value so an off-chain reader can rebuild state.
type Event struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Topic     common.Hash `json:"topic"`
	Timepoint uint64      `json:"timepoint"`
	Data      EventData   `json:"data"`
}

// NewEvent stamps a payload with an id, its topic and the timepoint
func NewEvent(data EventData, timepoint uint64) Event {
	sig := data.Signature()
	return Event{
		ID:        uuid.New().String(),
		Name:      eventName(sig),
		Topic:     Topic(sig),
		Timepoint: timepoint,
		Data:      data,
	}
}

// Topic returns keccak256(signature), matching the topic an EVM log would carry
func Topic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func eventName(sig string) string {
	for i := 0; i < len(sig); i++ {
		if sig[i] == '(' {
			return sig[:i]
		}
	}
	return sig
}

// Transfer is emitted for every committed balance move
type Transfer struct {
	Kind   UpdateKind     `json:"kind"`
	Mode   string         `json:"mode"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (Transfer) Signature() string { return "Transfer(address,address,uint256)" }

type AddressFrozen struct {
	Account  common.Address `json:"account"`
	Previous bool           `json:"previous"`
	Frozen   bool           `json:"frozen"`
}

func (AddressFrozen) Signature() string { return "AddressFrozen(address,bool)" }

type TokensFrozen struct {
	Account      common.Address `json:"account"`
	Amount       *uint256.Int   `json:"amount"`
	FrozenBefore *uint256.Int   `json:"frozen_before"`
	FrozenAfter  *uint256.Int   `json:"frozen_after"`
}

func (TokensFrozen) Signature() string { return "TokensFrozen(address,uint256)" }

type TokensUnfrozen struct {
	Account      common.Address `json:"account"`
	Amount       *uint256.Int   `json:"amount"`
	FrozenBefore *uint256.Int   `json:"frozen_before"`
	FrozenAfter  *uint256.Int   `json:"frozen_after"`
}

func (TokensUnfrozen) Signature() string { return "TokensUnfrozen(address,uint256)" }

type RecoverySuccess struct {
	LostWallet   common.Address `json:"lost_wallet"`
	NewWallet    common.Address `json:"new_wallet"`
	Balance      *uint256.Int   `json:"balance"`
	FrozenAmount *uint256.Int   `json:"frozen_amount"`
	FullyFrozen  bool           `json:"fully_frozen"`
}

func (RecoverySuccess) Signature() string {
	return "RecoverySuccess(address,address,uint256,uint256,bool)"
}

type CheckpointUpdated struct {
	Subject   common.Address `json:"subject"`
	Timepoint uint64         `json:"timepoint"`
	Previous  *uint256.Int   `json:"previous"`
	Value     *uint256.Int   `json:"value"`
}

func (CheckpointUpdated) Signature() string {
	return "CheckpointUpdated(address,uint48,uint256,uint256)"
}

type YieldClaimed struct {
	Holder             common.Address `json:"holder"`
	Amount             *uint256.Int   `json:"amount"`
	FromPeriod         uint64         `json:"from_period"`
	ToPeriod           uint64         `json:"to_period"`
	PeriodAmounts      []*uint256.Int `json:"period_amounts"`
	TotalClaimedBefore *uint256.Int   `json:"total_claimed_before"`
	TotalClaimedAfter  *uint256.Int   `json:"total_claimed_after"`
}

func (YieldClaimed) Signature() string {
	return "YieldClaimed(address,uint256,uint256,uint256,uint256[])"
}

type ReserveToppedUp struct {
	From          common.Address `json:"from"`
	Amount        *uint256.Int   `json:"amount"`
	ReserveBefore *uint256.Int   `json:"reserve_before"`
	ReserveAfter  *uint256.Int   `json:"reserve_after"`
}

func (ReserveToppedUp) Signature() string { return "ReserveToppedUp(address,uint256)" }

type ReserveWithdrawn struct {
	To            common.Address `json:"to"`
	Amount        *uint256.Int   `json:"amount"`
	ReserveBefore *uint256.Int   `json:"reserve_before"`
	ReserveAfter  *uint256.Int   `json:"reserve_after"`
}

func (ReserveWithdrawn) Signature() string { return "ReserveWithdrawn(address,uint256)" }

type Paused struct {
	Account common.Address `json:"account"`
}

func (Paused) Signature() string { return "Paused(address)" }

type Unpaused struct {
	Account common.Address `json:"account"`
}

func (Unpaused) Signature() string { return "Unpaused(address)" }
