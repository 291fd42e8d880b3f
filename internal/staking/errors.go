package staking

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Kind classifies ledger errors.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindState
	KindCapacity
	KindAuthorization
	KindArithmetic
	KindExternal
)

// String returns the kind name used in logs and API responses
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindAuthorization:
		return "authorization"
	case KindArithmetic:
		return "arithmetic"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Sentinel errors. Match with errors.Is; use errors.As on *Error for context.
var (
	ErrInvalidTier          = errors.New("invalid tier")
	ErrTierInactive         = errors.New("tier not active")
	ErrZeroAmount           = errors.New("amount must be greater than zero")
	ErrAmountBelowMinimum   = errors.New("amount below tier minimum")
	ErrUserMaxExceeded      = errors.New("amount exceeds per-user tier maximum")
	ErrMaxStakesReached     = errors.New("user already holds the maximum number of stakes")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrStakeNotFound        = errors.New("stake not found")
	ErrStakeInactive        = errors.New("stake not active")
	ErrStakeLocked          = errors.New("stake still locked")
	ErrCooldownActive       = errors.New("claim cooldown active")
	ErrPaused               = errors.New("ledger paused")
	ErrTierCapacity         = errors.New("tier capacity reached")
	ErrPremiumRosterFull    = errors.New("premium roster full")
	ErrRewardPoolExhausted  = errors.New("reward pool balance insufficient")
	ErrNotOwner             = errors.New("caller is not the owner")
	ErrOverflow             = errors.New("arithmetic overflow")
	ErrPrecisionLoss        = errors.New("amount truncates to zero")
	ErrTransferFailed       = errors.New("token transfer failed")
)

// Error is a ledger error with structured context.
type Error struct {
	Kind     Kind
	Op       string
	Err      error    // sentinel
	Required *big.Int // bound that was violated, when applicable
	Actual   *big.Int // offending value, when applicable
	Detail   string
	Cause    error // underlying collaborator error for KindExternal
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Required != nil && e.Actual != nil {
		fmt.Fprintf(&b, " [required %s, actual %s]", e.Required, e.Actual)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the collaborator cause.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// KindOf returns the error kind, or 0 when err is not a ledger error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

func newError(kind Kind, op string, sentinel error, detail string) *Error {
	return &Error{Kind: kind, Op: op, Err: sentinel, Detail: detail}
}

func boundError(kind Kind, op string, sentinel error, required, actual *big.Int) *Error {
	return &Error{
		Kind:     kind,
		Op:       op,
		Err:      sentinel,
		Required: new(big.Int).Set(required),
		Actual:   new(big.Int).Set(actual),
	}
}

func externalError(op string, cause error) *Error {
	return &Error{Kind: KindExternal, Op: op, Err: ErrTransferFailed, Cause: cause}
}
