package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"agora/core"
	"agora/core/types"
	"agora/crypto"
	nativecommon "agora/native/common"
	"agora/native/market"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeRateLimited    = -32020
	codeQuotaExceeded  = -32021

	codeChainIDMismatch       = -32040
	codeNonceMismatch         = -32041
	codeInvalidState          = -32050
	codeInvalidPayment        = -32051
	codeInsufficientInventory = -32052
	codeDuplicateTrade        = -32053
	codeNotYetDelivered       = -32054
	codeReturnWindowExpired   = -32055
	codeOutstandingTrades     = -32056
	codeArithmeticOverflow    = -32057
	codeInsufficientFunds     = -32058
	codeModulePaused          = -32059
)

// RPCError is the error object carried by every failed response.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

type errorResponse struct {
	Error *RPCError `json:"error"`
}

type errorClass struct {
	target error
	status int
	code   int
}

// errorClasses is ordered; the first match wins.
var errorClasses = []errorClass{
	{core.ErrChainIDMismatch, http.StatusBadRequest, codeChainIDMismatch},
	{core.ErrNonceMismatch, http.StatusConflict, codeNonceMismatch},
	{types.ErrUnsignedCall, http.StatusBadRequest, codeInvalidRequest},
	{crypto.ErrInvalidAddress, http.StatusBadRequest, codeInvalidParams},
	{market.ErrNotFound, http.StatusNotFound, codeNotFound},
	{market.ErrUnauthorized, http.StatusForbidden, codeUnauthorized},
	{market.ErrInvalidState, http.StatusConflict, codeInvalidState},
	{market.ErrInvalidPayment, http.StatusBadRequest, codeInvalidPayment},
	{market.ErrInsufficientInventory, http.StatusConflict, codeInsufficientInventory},
	{market.ErrDuplicateTrade, http.StatusConflict, codeDuplicateTrade},
	{market.ErrNotYetDelivered, http.StatusConflict, codeNotYetDelivered},
	{market.ErrReturnWindowExpired, http.StatusConflict, codeReturnWindowExpired},
	{market.ErrOutstandingTrades, http.StatusConflict, codeOutstandingTrades},
	{market.ErrArithmeticOverflow, http.StatusBadRequest, codeArithmeticOverflow},
	{market.ErrInsufficientFunds, http.StatusPaymentRequired, codeInsufficientFunds},
	{market.ErrModulePaused, http.StatusServiceUnavailable, codeModulePaused},
	{nativecommon.ErrQuotaRequestsExceeded, http.StatusTooManyRequests, codeQuotaExceeded},
	{nativecommon.ErrQuotaCounterOverflow, http.StatusTooManyRequests, codeQuotaExceeded},
	{market.ErrInvalidArgument, http.StatusBadRequest, codeInvalidParams},
}

// classify maps err onto an HTTP status and a stable error code.
func classify(err error) (int, int) {
	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.status, class.code
		}
	}
	return http.StatusInternalServerError, codeServerError
}

func writeError(w http.ResponseWriter, status int, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errObj})
}

// writeFailure reports err using its classified status and code. Internal
// errors are not echoed to the client.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, code, message, nil)
}

func writeResult(w http.ResponseWriter, status int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
