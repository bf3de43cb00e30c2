package txlifecycle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var zeroAddress common.Address

// weiToGwei converts a wei amount to gwei with float precision good enough
// for pricing decisions (never for value transfers).
func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}

// Status is the lifecycle state of a logical swap transaction. One logical
// transaction may map to several network broadcasts (retries, replacements)
// but always has exactly one Status at a time.
type Status string

const (
	StatusPreparing           Status = "preparing"
	StatusGasOptimizing       Status = "gas_optimizing"
	StatusCircuitBreakerCheck Status = "circuit_breaker_check"
	StatusReadyToSubmit       Status = "ready_to_submit"
	StatusSubmitted           Status = "submitted"
	StatusPending             Status = "pending"
	StatusRetrying            Status = "retrying"
	StatusGasEscalated        Status = "gas_escalated"
	StatusMempoolDropped      Status = "mempool_dropped"
	StatusConfirmed           Status = "confirmed"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"

	// StatusBlockedByCircuitBreaker is terminal for the attempt: the system
	// chose not to touch the network at all.
	StatusBlockedByCircuitBreaker Status = "blocked_by_circuit_breaker"
)

// Terminal reports whether the status allows no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBlockedByCircuitBreaker:
		return true
	}
	return false
}

// PreBroadcast reports whether the transaction has not yet reached the
// network. Cancellation is only possible in these states.
func (s Status) PreBroadcast() bool {
	switch s {
	case StatusPreparing, StatusGasOptimizing, StatusCircuitBreakerCheck, StatusReadyToSubmit:
		return true
	}
	return false
}

// Active reports whether the transaction is broadcast but not yet resolved,
// i.e. it is subject to the stuck-transaction sweep.
func (s Status) Active() bool {
	switch s {
	case StatusSubmitted, StatusPending, StatusRetrying, StatusGasEscalated, StatusMempoolDropped:
		return true
	}
	return false
}

// SwapParams is the immutable swap intent decided by the caller, plus the
// gas parameters that are mutable across retries. Gas fields are the only
// fields the manager ever changes.
type SwapParams struct {
	ChainID         uint64
	TokenIn         common.Address
	TokenOut        common.Address
	AmountIn        *big.Int
	AmountUSD       float64
	SlippagePercent float64
	Deadline        time.Time
	TradeType       string

	// Mutable across retries and replacements.
	GasPriceGwei float64
	GasLimit     uint64

	// Nonce is set only for replacement broadcasts; nil lets the executor
	// assign the account's next nonce.
	Nonce *uint64
}

// AttemptError is one entry of a transaction's per-attempt error history.
type AttemptError struct {
	Attempt int
	Class   ErrorClass
	Message string
	Time    time.Time
}

// TransactionState is the central entity: one instance per logical swap
// transaction. It is mutated exclusively by its owning submission goroutine
// and, after broadcast, by the per-chain monitor sweep. Readers always get
// deep copies.
type TransactionState struct {
	// Identity
	ID      string
	Account common.Address
	ChainID uint64

	Status Status

	// Network artifacts, zero until assigned.
	Hash                  common.Hash
	BlockNumber           uint64
	GasUsed               uint64
	EffectiveGasPriceGwei float64
	Nonce                 *uint64

	// AmountOut is the executor-reported swap output, carried on the state
	// so both settle paths (confirmation watch and sweep) record it.
	AmountOut *big.Int

	// Swap intent and current gas parameters.
	Swap SwapParams

	// Gas economics. OriginalGasPriceGwei is frozen at first submission and
	// is the base every escalation compounds from.
	OriginalGasPriceGwei float64
	SavingsPercent       float64
	EstimatedCostUSD     float64

	// Retry bookkeeping.
	RetryCount         int
	MaxRetries         int
	DelaysUsed         []time.Duration
	EscalatedGasPrices []float64
	LastRetryAt        time.Time
	AttemptErrors      []AttemptError

	// Replacement bookkeeping for the stuck-transaction path.
	ReplacementCount int

	CreatedAt   time.Time
	SubmittedAt time.Time
	ConfirmedAt time.Time

	// Simulated marks a paper submission. It changes timing constants only,
	// never correctness rules.
	Simulated bool
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (st *TransactionState) Clone() *TransactionState {
	if st == nil {
		return nil
	}
	cp := *st
	if st.Nonce != nil {
		n := *st.Nonce
		cp.Nonce = &n
	}
	if st.AmountOut != nil {
		cp.AmountOut = new(big.Int).Set(st.AmountOut)
	}
	if st.Swap.AmountIn != nil {
		cp.Swap.AmountIn = new(big.Int).Set(st.Swap.AmountIn)
	}
	if st.Swap.Nonce != nil {
		n := *st.Swap.Nonce
		cp.Swap.Nonce = &n
	}
	cp.DelaysUsed = append([]time.Duration(nil), st.DelaysUsed...)
	cp.EscalatedGasPrices = append([]float64(nil), st.EscalatedGasPrices...)
	cp.AttemptErrors = append([]AttemptError(nil), st.AttemptErrors...)
	return &cp
}

// SubmissionRequest is the caller's input to Submit.
type SubmissionRequest struct {
	// ID is optional; a fresh one is generated when empty.
	ID      string
	Account common.Address
	Swap    SwapParams

	// Strategy is forwarded to the gas pricer (e.g. "fast", "standard").
	Strategy  string
	Simulated bool

	// RetryPolicy overrides the manager's default retry configuration for
	// this transaction only.
	RetryPolicy *RetryConfig

	// BypassCircuitBreaker is reserved for operator-triggered emergency
	// overrides. Normal callers must leave it false.
	BypassCircuitBreaker bool
}

// SubmissionResult is the outcome of Submit. A circuit-breaker rejection is
// a first-class result, not an error: Blocked is true and BlockedReasons
// lists every open breaker.
type SubmissionResult struct {
	State          *TransactionState
	Blocked        bool
	BlockedReasons []string
	SavingsPercent float64
}

// StatusEvent is published after every state transition. Delivery is
// best-effort; subscribers that fall behind lose events.
type StatusEvent struct {
	TxID         string
	Status       Status
	ChainID      uint64
	Hash         common.Hash
	GasPriceGwei float64
	RetryCount   int
	Error        string
	Time         time.Time
}

// TradeRecord is the audit payload persisted on terminal Completed.
type TradeRecord struct {
	TxID                  string         `json:"tx_id"`
	Account               common.Address `json:"account"`
	ChainID               uint64         `json:"chain_id"`
	Hash                  common.Hash    `json:"hash"`
	Nonce                 uint64         `json:"nonce"`
	TokenIn               common.Address `json:"token_in"`
	TokenOut              common.Address `json:"token_out"`
	AmountIn              string         `json:"amount_in"`
	AmountOut             string         `json:"amount_out"`
	GasUsed               uint64         `json:"gas_used"`
	EffectiveGasPriceGwei float64        `json:"effective_gas_price_gwei"`
	SavingsPercent        float64        `json:"savings_percent"`
	RetryCount            int            `json:"retry_count"`
	Simulated             bool           `json:"simulated"`
	CompletedAt           time.Time      `json:"completed_at"`
}
