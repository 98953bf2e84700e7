package provider_errors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/rpc"
)

type RpcProviderErrorType string

const (
	// RPC Errors
	RpcErrorTypeNone           RpcProviderErrorType = "none"
	RpcErrorTypeMethodNotFound RpcProviderErrorType = "rpc_method_not_found"
	RpcErrorTypeRPSLimit       RpcProviderErrorType = "rpc_rps_limit"
	RpcErrorTypeVMError        RpcProviderErrorType = "rpc_vm_error"
	RpcErrorTypeInvalidParams  RpcProviderErrorType = "rpc_invalid_params"
	RpcErrorTypeCanceled       RpcProviderErrorType = "rpc_canceled"
	RpcErrorTypeRPCOther       RpcProviderErrorType = "rpc_other"
)

// propagateErrors are returned by every node for the same request, so
// retrying them elsewhere is pointless.
var propagateErrors = []error{
	vm.ErrOutOfGas,
	vm.ErrCodeStoreOutOfGas,
	vm.ErrDepth,
	vm.ErrInsufficientBalance,
	vm.ErrContractAddressCollision,
	vm.ErrExecutionReverted,
	vm.ErrMaxCodeSizeExceeded,
	vm.ErrInvalidJump,
	vm.ErrWriteProtection,
	vm.ErrReturnDataOutOfBounds,
	vm.ErrGasUintOverflow,
	vm.ErrInvalidCode,
	vm.ErrNonceUintOverflow,
}

// Not found should not be cancelling the requests, as that's returned
// when we are hitting a non archival node for example, it should continue the
// chain as the next provider might have archival support.
func IsNotFoundError(err error) bool {
	return strings.Contains(err.Error(), ethereum.NotFound.Error())
}

func IsRPCError(err error) (rpc.Error, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

func IsMethodNotFoundError(err error) bool {
	if rpcErr, ok := IsRPCError(err); ok {
		return rpcErr.ErrorCode() == -32601
	}
	return false
}

func IsInvalidParamsError(err error) bool {
	if rpcErr, ok := IsRPCError(err); ok {
		return rpcErr.ErrorCode() == -32602
	}
	return false
}

// IsRPSLimitError reports provider throttling, either as HTTP 429 or as a
// JSON-RPC error message.
func IsRPSLimitError(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "backoff_seconds")
}

func IsVMError(err error) bool {
	if rpcErr, ok := IsRPCError(err); ok && rpcErr.ErrorCode() == -32015 {
		return true
	}
	if strings.HasPrefix(err.Error(), "execution reverted") {
		return true
	}
	if strings.Contains(err.Error(), core.ErrInsufficientFunds.Error()) {
		return true
	}
	for _, vmError := range propagateErrors {
		if strings.Contains(err.Error(), vmError.Error()) {
			return true
		}
	}
	return false
}

// determineRpcErrorType determines the RpcProviderErrorType based on the error.
func determineRpcErrorType(err error) RpcProviderErrorType {
	if err == nil {
		return RpcErrorTypeNone
	}

	if errors.Is(err, context.Canceled) {
		return RpcErrorTypeCanceled
	}
	if IsRPSLimitError(err) {
		return RpcErrorTypeRPSLimit
	}
	if IsMethodNotFoundError(err) || IsNotFoundError(err) {
		return RpcErrorTypeMethodNotFound
	}
	if IsInvalidParamsError(err) {
		return RpcErrorTypeInvalidParams
	}
	if IsVMError(err) {
		return RpcErrorTypeVMError
	}
	return RpcErrorTypeRPCOther
}

// IsNonCriticalRpcError reports errors that do not say anything bad about the
// provider itself, it stays "up" for status reporting.
func IsNonCriticalRpcError(err error) bool {
	switch determineRpcErrorType(err) {
	case RpcErrorTypeNone, RpcErrorTypeMethodNotFound, RpcErrorTypeRPSLimit, RpcErrorTypeVMError, RpcErrorTypeInvalidParams, RpcErrorTypeCanceled:
		return true
	default:
		return false
	}
}

// IsPropagatedError reports errors caused by the request itself. They are
// returned to the caller as is, without trying other providers.
func IsPropagatedError(err error) bool {
	switch determineRpcErrorType(err) {
	case RpcErrorTypeVMError, RpcErrorTypeInvalidParams, RpcErrorTypeCanceled:
		return true
	default:
		return false
	}
}
