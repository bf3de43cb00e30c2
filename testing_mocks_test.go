package txlifecycle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockGasPricer implements GasPricer for testing
type mockGasPricer struct {
	mu sync.Mutex

	// Function hook - set this to customize behavior
	OptimizeFn func(ctx context.Context, req GasRequest) (*GasQuote, error)

	// Call tracking for assertions
	OptimizeCalls []GasRequest
}

func (m *mockGasPricer) Optimize(ctx context.Context, req GasRequest) (*GasQuote, error) {
	m.mu.Lock()
	m.OptimizeCalls = append(m.OptimizeCalls, req)
	m.mu.Unlock()
	if m.OptimizeFn != nil {
		return m.OptimizeFn(ctx, req)
	}
	return &GasQuote{
		GasPriceGwei:     20.0,
		GasLimit:         150000,
		EstimatedCostUSD: 5.0,
		SavingsPercent:   10.0,
	}, nil
}

// mockSwapExecutor implements SwapExecutor for testing
type mockSwapExecutor struct {
	mu sync.Mutex

	ExecuteFn func(ctx context.Context, params SwapParams, sender common.Address) (*SwapResult, error)

	ExecuteCalls []struct {
		Params SwapParams
		Sender common.Address
	}
}

func (m *mockSwapExecutor) Execute(ctx context.Context, params SwapParams, sender common.Address) (*SwapResult, error) {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, struct {
		Params SwapParams
		Sender common.Address
	}{params, sender})
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, params, sender)
	}
	return &SwapResult{
		Hash:                  common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001"),
		Nonce:                 1,
		BlockNumber:           12345678,
		GasUsed:               150000,
		EffectiveGasPriceGwei: params.GasPriceGwei,
		AmountOut:             big.NewInt(1000),
	}, nil
}

// calls returns a snapshot of the recorded Execute calls.
func (m *mockSwapExecutor) calls() []struct {
	Params SwapParams
	Sender common.Address
} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]struct {
		Params SwapParams
		Sender common.Address
	}, len(m.ExecuteCalls))
	copy(out, m.ExecuteCalls)
	return out
}

// mockChainReader implements ChainReader for testing
type mockChainReader struct {
	mu sync.Mutex

	TransactionReceiptFn  func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHashFn   func(ctx context.Context, hash common.Hash) (bool, error)
	PendingNonceAtFn      func(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPriceGweiFn func(ctx context.Context) (float64, error)

	TransactionReceiptCalls []common.Hash
	TransactionByHashCalls  []common.Hash
	PendingNonceAtCalls     []common.Address
}

func (m *mockChainReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.TransactionReceiptCalls = append(m.TransactionReceiptCalls, hash)
	m.mu.Unlock()
	if m.TransactionReceiptFn != nil {
		return m.TransactionReceiptFn(ctx, hash)
	}
	return nil, nil
}

func (m *mockChainReader) TransactionByHash(ctx context.Context, hash common.Hash) (bool, error) {
	m.mu.Lock()
	m.TransactionByHashCalls = append(m.TransactionByHashCalls, hash)
	m.mu.Unlock()
	if m.TransactionByHashFn != nil {
		return m.TransactionByHashFn(ctx, hash)
	}
	return true, nil
}

func (m *mockChainReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	m.PendingNonceAtCalls = append(m.PendingNonceAtCalls, account)
	m.mu.Unlock()
	if m.PendingNonceAtFn != nil {
		return m.PendingNonceAtFn(ctx, account)
	}
	return 0, nil
}

func (m *mockChainReader) SuggestGasPriceGwei(ctx context.Context) (float64, error) {
	if m.SuggestGasPriceGweiFn != nil {
		return m.SuggestGasPriceGweiFn(ctx)
	}
	return 20.0, nil
}

// mockTradeRecorder implements TradeRecorder for testing
type mockTradeRecorder struct {
	mu sync.Mutex

	RecordTradeFn func(ctx context.Context, record *TradeRecord) error

	RecordTradeCalls []*TradeRecord
}

func (m *mockTradeRecorder) RecordTrade(ctx context.Context, record *TradeRecord) error {
	m.mu.Lock()
	m.RecordTradeCalls = append(m.RecordTradeCalls, record)
	m.mu.Unlock()
	if m.RecordTradeFn != nil {
		return m.RecordTradeFn(ctx, record)
	}
	return nil
}

func (m *mockTradeRecorder) recorded() []*TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TradeRecord, len(m.RecordTradeCalls))
	copy(out, m.RecordTradeCalls)
	return out
}

// ============================================================
// Test Fixtures
// ============================================================

var (
	testAccount1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAccount2 = common.HexToAddress("0x2222222222222222222222222222222222222222")

	testTokenIn  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testTokenOut = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	testHash1 = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")
	testHash2 = common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000002")
)

// fastRetryConfig returns production semantics at test timing.
func fastRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 1 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.JitterFraction = 0
	cfg.MempoolCheckInterval = 10 * time.Millisecond
	cfg.StuckThreshold = 30 * time.Millisecond
	cfg.MempoolDropTimeout = 30 * time.Millisecond
	cfg.BreakerCooldown = 20 * time.Millisecond
	cfg.PaperInitialDelay = 1 * time.Millisecond
	cfg.PaperMaxDelay = 10 * time.Millisecond
	return cfg
}

func newTestRequest(account common.Address) SubmissionRequest {
	return SubmissionRequest{
		Account: account,
		Swap: SwapParams{
			ChainID:         1,
			TokenIn:         testTokenIn,
			TokenOut:        testTokenOut,
			AmountIn:        big.NewInt(1_000_000_000),
			AmountUSD:       1000,
			SlippagePercent: 0.5,
			TradeType:       "swap",
			GasPriceGwei:    20,
			GasLimit:        150000,
		},
		Strategy: "standard",
	}
}

func minedReceipt(hash common.Hash) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            hash,
		BlockNumber:       big.NewInt(12345678),
		GasUsed:           150000,
		EffectiveGasPrice: big.NewInt(20_000_000_000),
	}
}

// ============================================================
// Test Helpers
// ============================================================

// testSetup contains all the mocks needed for a typical test
type testSetup struct {
	Manager  *Manager
	Pricer   *mockGasPricer
	Executor *mockSwapExecutor
	Reader   *mockChainReader
	Recorder *mockTradeRecorder
}

// newTestSetup creates a complete test setup with default mocks and fast
// timing. The manager is closed automatically when the test finishes.
func newTestSetup(t *testing.T, opts ...Option) *testSetup {
	t.Helper()

	pricer := &mockGasPricer{}
	executor := &mockSwapExecutor{}
	reader := &mockChainReader{}
	recorder := &mockTradeRecorder{}

	allOpts := append([]Option{
		WithRetryConfig(fastRetryConfig()),
		WithChainReader(1, reader),
		WithTradeRecorder(recorder),
	}, opts...)

	m, err := New(pricer, executor, allOpts...)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(m.Close)

	return &testSetup{
		Manager:  m,
		Pricer:   pricer,
		Executor: executor,
		Reader:   reader,
		Recorder: recorder,
	}
}

// waitForStatus polls Status until the transaction reaches the wanted state
// or the timeout expires.
func waitForStatus(t *testing.T, m *Manager, id string, want Status, timeout time.Duration) *TransactionState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := m.Status(id)
		if err == nil && st.Status == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	st, err := m.Status(id)
	if err != nil {
		t.Fatalf("Transaction %s never reached %s: %v", id, want, err)
	}
	t.Fatalf("Transaction %s never reached %s, last status %s", id, want, st.Status)
	return nil
}
