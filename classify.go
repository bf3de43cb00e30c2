package txlifecycle

import "strings"

// ErrorClass is the failure taxonomy that drives retry policy. It is derived
// by pattern-matching the raw error text from the executor/node when no
// structured code is available.
type ErrorClass string

const (
	ErrClassOutOfGas          ErrorClass = "out_of_gas"
	ErrClassNonceError        ErrorClass = "nonce_error"
	ErrClassContractRevert    ErrorClass = "contract_revert"
	ErrClassNetworkError      ErrorClass = "network_error"
	ErrClassInsufficientFunds ErrorClass = "insufficient_funds"
	ErrClassGasTooLow         ErrorClass = "gas_too_low"
	ErrClassUnknown           ErrorClass = "unknown"
)

// Matching is ordered: the more specific funds/nonce/gas patterns must win
// over the generic revert and network buckets.
var classPatterns = []struct {
	class    ErrorClass
	patterns []string
}{
	{ErrClassInsufficientFunds, []string{
		"insufficient funds",
		"insufficient balance",
		"not enough funds",
	}},
	{ErrClassNonceError, []string{
		"nonce too low",
		"nonce too high",
		"invalid nonce",
		"nonce is too low",
		"same nonce",
		"already known",
	}},
	{ErrClassGasTooLow, []string{
		"underpriced",
		"transaction underpriced",
		"replacement transaction underpriced",
		"gas price below",
		"max fee per gas less than block base fee",
		"fee cap less than",
		"tip cap less than",
	}},
	{ErrClassOutOfGas, []string{
		"out of gas",
		"intrinsic gas too low",
		"gas required exceeds allowance",
		"exceeds block gas limit",
		"gas limit reached",
	}},
	{ErrClassContractRevert, []string{
		"execution reverted",
		"revert",
		"require(",
		"assert(",
		"invalid opcode",
		"transaction failed",
	}},
	{ErrClassNetworkError, []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"context deadline exceeded",
		"timeout",
		"eof",
		"broken pipe",
		"no route to host",
		"temporarily unavailable",
		"too many requests",
		"service unavailable",
		"502",
		"503",
	}},
}

// Classify maps a raw executor/node error to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classPatterns {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return c.class
			}
		}
	}
	return ErrClassUnknown
}

// Retryable reports whether a failure class is worth another broadcast.
// InsufficientFunds and ContractRevert (unless explicitly configured
// otherwise) short-circuit to Failed: retrying a logic error wastes gas
// without changing the outcome.
func (c ErrorClass) Retryable(retryContractReverts bool) bool {
	switch c {
	case ErrClassInsufficientFunds:
		return false
	case ErrClassContractRevert:
		return retryContractReverts
	default:
		return true
	}
}
