package txlifecycle

import "fmt"

// Lifecycle errors. Callers can use errors.Is to check which condition
// terminated a submission.
var (
	ErrOutOfRetries            = fmt.Errorf("submission out of retries")
	ErrNotRetryable            = fmt.Errorf("failure class is not retryable")
	ErrBlockedByCircuitBreaker = fmt.Errorf("submission blocked by circuit breaker")
	ErrNonceConflict           = fmt.Errorf("nonce already confirmed by another transaction")
	ErrNonceGap                = fmt.Errorf("nonce gap detected for account")
	ErrNotCancellable          = fmt.Errorf("transaction is already broadcast and cannot be cancelled")
	ErrUnknownTransaction      = fmt.Errorf("transaction id is not registered")
	ErrTerminalState           = fmt.Errorf("transaction is in a terminal state")
	ErrAccountZero             = fmt.Errorf("account address cannot be zero")
	ErrNoChainReader           = fmt.Errorf("no chain reader registered for chain")
	ErrInvalidSwapParams       = fmt.Errorf("invalid swap parameters")
	ErrManagerClosed           = fmt.Errorf("lifecycle manager is closed")
)
