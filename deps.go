// deps.go defines minimal interfaces for external collaborators.
// This allows for easy mocking in tests and decouples the library from
// specific pricer, router and node implementations.
package txlifecycle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// GasRequest is the input to the gas pricer.
type GasRequest struct {
	ChainID   uint64
	TradeType string
	AmountUSD float64
	Strategy  string
	Simulated bool
}

// GasQuote is the pricer's recommendation for one submission.
type GasQuote struct {
	GasPriceGwei     float64
	GasLimit         uint64
	EstimatedCostUSD float64
	SavingsPercent   float64
}

// GasPricer returns a recommended gas price/limit for a given strategy.
// Pure request/response, no state. A pricer failure is a soft failure: the
// manager falls back to caller-supplied defaults instead of failing the
// submission.
type GasPricer interface {
	Optimize(ctx context.Context, req GasRequest) (*GasQuote, error)
}

// SwapResult carries the on-chain artifacts of one broadcast attempt.
type SwapResult struct {
	Hash                  common.Hash
	Nonce                 uint64
	BlockNumber           uint64
	GasUsed               uint64
	EffectiveGasPriceGwei float64
	AmountOut             *big.Int
	SlippagePercent       float64
	ExecutionTime         time.Duration
}

// SwapExecutor submits one swap attempt. Exactly one network broadcast per
// call: calling it again produces a new broadcast, so the manager never
// calls it twice for the same intent without deliberately bumping nonce or
// gas.
type SwapExecutor interface {
	Execute(ctx context.Context, params SwapParams, sender common.Address) (*SwapResult, error)
}

// ChainReader is the read-only view of one chain's node used by the
// stuck-transaction sweep.
type ChainReader interface {
	// TransactionReceipt returns the receipt for a mined transaction, or
	// (nil, nil) when the transaction is not yet confirmed. "Receipt not
	// found" is not an error.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// TransactionByHash reports whether the transaction is still observable
	// in the pending pool. (false, nil) means not observable.
	TransactionByHash(ctx context.Context, hash common.Hash) (inMempool bool, err error)

	// PendingNonceAt returns the account's next-expected nonce including
	// mempool transactions. The sweep queries it fresh, never cached.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPriceGwei returns the current network gas price.
	SuggestGasPriceGwei(ctx context.Context) (float64, error)
}

// TradeRecorder is the persisted audit sink, called once on terminal
// Completed. Failure to record is logged but never alters the transaction's
// terminal status.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, record *TradeRecord) error
}
