package core

import (
	"errors"
	"fmt"

	"agora/native/market"
)

var (
	ErrChainIDMismatch = errors.New("core: chain id mismatch")
	ErrNonceMismatch   = errors.New("core: nonce mismatch")
	// ErrUnexpectedValue rejects value attached to calls that never take it.
	ErrUnexpectedValue = fmt.Errorf("%w: call does not accept value", market.ErrInvalidPayment)
	ErrUnknownCallType = fmt.Errorf("%w: unknown call type", market.ErrInvalidArgument)
	ErrInvalidPayload  = fmt.Errorf("%w: malformed call payload", market.ErrInvalidArgument)
)
