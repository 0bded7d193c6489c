package protocol

import "errors"

// ErrorKind classifies a LedgerError. Every failure aborts the whole
// operation; the kind only tells the caller what to fix before resubmitting.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindState
	KindAuthorization
	KindResource
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// LedgerError is a classified failure. Values are compared by identity, so
// callers wrap them with fmt.Errorf("%w: ...") to add detail.
type LedgerError struct {
	Kind ErrorKind
	msg  string
}

func (e *LedgerError) Error() string {
	return e.msg
}

// KindOf returns the kind of the first LedgerError in err's chain.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// Validation errors
var (
	ErrZeroAddress       = &LedgerError{KindValidation, "zero address"}
	ErrZeroAmount        = &LedgerError{KindValidation, "zero amount"}
	ErrLengthMismatch    = &LedgerError{KindValidation, "length mismatch"}
	ErrInvalidPeriod     = &LedgerError{KindValidation, "invalid period"}
	ErrInvalidStartDate  = &LedgerError{KindValidation, "invalid start date"}
	ErrInvalidEndDate    = &LedgerError{KindValidation, "invalid end date"}
	ErrInvalidRate       = &LedgerError{KindValidation, "invalid rate"}
	ErrInvalidInterval   = &LedgerError{KindValidation, "invalid interval"}
	ErrSameWallet        = &LedgerError{KindValidation, "lost and new wallet are the same"}
	ErrInvalidAmount     = &LedgerError{KindValidation, "invalid amount"}
	ErrUnknownUpdateKind = &LedgerError{KindValidation, "unknown update kind"}
	ErrMalformedRequest  = &LedgerError{KindValidation, "malformed request"}
)

// State errors
var (
	ErrInsufficientBalance          = &LedgerError{KindState, "insufficient balance"}
	ErrInsufficientAvailableBalance = &LedgerError{KindState, "insufficient available balance"}
	ErrInsufficientFrozenBalance    = &LedgerError{KindState, "insufficient frozen balance"}
	ErrInsufficientAllowance        = &LedgerError{KindState, "insufficient allowance"}
	ErrSenderFrozen                 = &LedgerError{KindState, "sender frozen"}
	ErrRecipientFrozen              = &LedgerError{KindState, "recipient frozen"}
	ErrWalletLost                   = &LedgerError{KindState, "wallet marked as lost"}
	ErrWalletAlreadyLinked          = &LedgerError{KindState, "wallet already linked"}
	ErrRecoveryTargetNotEmpty       = &LedgerError{KindState, "recovery target not empty"}
	ErrIdentityMismatch             = &LedgerError{KindState, "wallets do not share a verified identity"}
	ErrFutureLookup                 = &LedgerError{KindState, "future lookup"}
	ErrNonMonotonicClock            = &LedgerError{KindState, "checkpoint clock went backwards"}
	ErrUnderflow                    = &LedgerError{KindState, "underflow"}
	ErrOverflow                     = &LedgerError{KindState, "overflow"}
	ErrNotActive                    = &LedgerError{KindState, "not active"}
	ErrAlreadyPaused                = &LedgerError{KindState, "already paused"}
	ErrNotPaused                    = &LedgerError{KindState, "not paused"}
	ErrYieldScheduleActive          = &LedgerError{KindState, "yield schedule active"}
	ErrReentrantCall                = &LedgerError{KindState, "reentrant call"}
)

// Authorization errors
var (
	ErrUnauthorized = &LedgerError{KindAuthorization, "unauthorized"}
)

// Resource errors
var (
	ErrInsufficientReserve = &LedgerError{KindResource, "insufficient reserve"}
	ErrNoTokensToRecover   = &LedgerError{KindResource, "no tokens to recover"}
	ErrNoYieldAvailable    = &LedgerError{KindResource, "no yield available"}
)
