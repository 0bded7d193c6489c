package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TotalSupplySubject is the checkpoint subject holding total supply history.
// It can never own tokens because it is not a reachable account.
var TotalSupplySubject = common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

// UpdateKind is the base ledger primitive an Update performs
type UpdateKind string

const (
	KindMint     UpdateKind = "mint"
	KindBurn     UpdateKind = "burn"
	KindTransfer UpdateKind = "transfer"
	KindRedeem   UpdateKind = "redeem"
)

// Mode tags a single update as standard or as an administrative bypass.
// It lives only for the duration of the call it is attached to.
type Mode int

const (
	ModeStandard Mode = iota
	ModeForced
)

func (m Mode) String() string {
	if m == ModeForced {
		return "forced"
	}
	return "standard"
}

// Update is one balance move handed to every ledger extension.
// Mint has a zero From, burn and redeem have a zero To.
type Update struct {
	Kind   UpdateKind
	Mode   Mode
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// Forced reports whether the update bypasses standard custody checks
func (u *Update) Forced() bool {
	return u.Mode == ModeForced
}

// FreezeState is the custody view of a single account
type FreezeState struct {
	FullyFrozen  bool         `json:"fully_frozen"`
	FrozenAmount *uint256.Int `json:"frozen_amount"`
}

// AccountView is returned by the balance endpoint
type AccountView struct {
	Address      common.Address `json:"address"`
	Balance      string         `json:"balance"`
	Frozen       string         `json:"frozen"`
	Available    string         `json:"available"`
	FullyFrozen  bool           `json:"fully_frozen"`
	Lost         bool           `json:"lost"`
	LastClaimed  uint64         `json:"last_claimed_period"`
	AccruedYield string         `json:"accrued_yield,omitempty"`
}

// Request bodies. Amounts are decimal strings.

// MintRequest mints to an account (also used for burn with To as the holder)
type MintRequest struct {
	Caller  common.Address `json:"caller"`
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type TransferRequest struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type RedeemRequest struct {
	Holder common.Address `json:"holder"`
	Amount string         `json:"amount"`
}

type FreezeRequest struct {
	Caller  common.Address `json:"caller"`
	Account common.Address `json:"account"`
	Frozen  bool           `json:"frozen"`
}

type PartialFreezeRequest struct {
	Caller  common.Address `json:"caller"`
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type BatchFreezeRequest struct {
	Caller   common.Address   `json:"caller"`
	Accounts []common.Address `json:"accounts"`
	Frozen   []bool           `json:"frozen"`
}

type BatchPartialFreezeRequest struct {
	Caller   common.Address   `json:"caller"`
	Accounts []common.Address `json:"accounts"`
	Amounts  []string         `json:"amounts"`
}

type ForcedTransferRequest struct {
	Caller common.Address `json:"caller"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type BatchForcedTransferRequest struct {
	Caller  common.Address   `json:"caller"`
	From    []common.Address `json:"from"`
	To      []common.Address `json:"to"`
	Amounts []string         `json:"amounts"`
}

type RecoveryRequest struct {
	Caller     common.Address `json:"caller"`
	LostWallet common.Address `json:"lost_wallet"`
	NewWallet  common.Address `json:"new_wallet"`
}

type ClaimRequest struct {
	Holder common.Address `json:"holder"`
}

type TopUpRequest struct {
	From   common.Address `json:"from"`
	Amount string         `json:"amount"`
}

type WithdrawRequest struct {
	Caller common.Address `json:"caller"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount,omitempty"`
}

type PauseRequest struct {
	Caller common.Address `json:"caller"`
}

type ApproveRequest struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

type FaucetRequest struct {
	Address common.Address `json:"address"`
	Amount  string         `json:"amount"`
}

// ErrorResponse is written for every failed operation
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Receipt string `json:"receipt,omitempty"`
}

// ParseAmount parses a decimal amount string
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// YieldStatus summarizes the yield schedule and its reserve
type YieldStatus struct {
	Address             common.Address `json:"address"`
	Start               uint64         `json:"start"`
	End                 uint64         `json:"end"`
	Interval            uint64         `json:"interval"`
	RateBps             uint64         `json:"rate_bps"`
	Periods             []uint64       `json:"periods"`
	Now                 uint64         `json:"now"`
	CurrentPeriod       uint64         `json:"current_period"`
	LastCompletedPeriod uint64         `json:"last_completed_period"`
	LastSettledPeriod   uint64         `json:"last_settled_period"`
	TimeUntilNextPeriod uint64         `json:"time_until_next_period"`
	Paused              bool           `json:"paused"`
	Reserve             string         `json:"reserve"`
	TotalClaimed        string         `json:"total_claimed"`
	TotalUnclaimed      string         `json:"total_unclaimed"`
	NextPeriodYield     string         `json:"next_period_yield"`
}

// NodeInfo is returned by the info endpoint
type NodeInfo struct {
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply string   `json:"total_supply"`
	Holders     int      `json:"holders"`
	Extensions  []string `json:"extensions"`
	Now         uint64   `json:"now"`
	Yield       bool     `json:"yield"`
}
