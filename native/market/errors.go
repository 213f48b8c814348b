package market

import (
	"errors"

	nativecommon "agora/native/common"
)

// Every precondition failure maps onto exactly one of these kinds. Callers
// match them with errors.Is; the engine wraps them with context.
var (
	ErrNotFound              = errors.New("market: not found")
	ErrUnauthorized          = errors.New("market: unauthorized")
	ErrInvalidState          = errors.New("market: invalid state")
	ErrInvalidPayment        = errors.New("market: invalid payment")
	ErrInsufficientInventory = errors.New("market: insufficient inventory")
	ErrDuplicateTrade        = errors.New("market: duplicate trade")
	ErrNotYetDelivered       = errors.New("market: not yet delivered")
	ErrReturnWindowExpired   = errors.New("market: return window expired")
	ErrOutstandingTrades     = errors.New("market: outstanding trades")
	ErrArithmeticOverflow    = errors.New("market: arithmetic overflow")
	ErrInvalidArgument       = errors.New("market: invalid argument")
	ErrInsufficientFunds     = errors.New("market: insufficient funds")

	// ErrModulePaused is returned by state-changing entry points while the
	// market module is paused.
	ErrModulePaused = nativecommon.ErrModulePaused
)

var (
	errNilState     = errors.New("market engine: state not configured")
	errNilInventory = errors.New("market engine: inventory ledger not configured")
	errNilOracle    = errors.New("market engine: logistics oracle not configured")
	errNilTreasury  = errors.New("market engine: fee treasury not configured")
)
