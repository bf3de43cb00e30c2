package txlifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"

	"github.com/swapforge/txlifecycle/internal/circuitbreaker"
)

// Manager is the transaction lifecycle orchestrator. It owns the
// per-transaction state machine, sequences gas optimization, circuit breaker
// gating and broadcast retries, and runs one stuck-transaction sweep per
// chain. Construct it with New and the collaborators injected; there is no
// package-level instance.
//
// One goroutine owns each transaction's submit-and-retry flow; after the
// transaction is broadcast, ownership of its registry entry passes to the
// per-chain monitor. Status queries and the event stream only ever see deep
// copies.
type Manager struct {
	pricer   GasPricer
	executor SwapExecutor
	recorder TradeRecorder

	// readers stores the read-only node view per chain id.
	readers sync.Map // map[uint64]ChainReader

	cfg      RetryConfig
	breakers *breakerSet
	registry *registry
	events   *eventBus

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	monitorsMu sync.Mutex
	monitors   map[uint64]*StuckTransactionMonitor

	// cancels maps transaction id to the cancel function of its owning
	// context, for pre-broadcast cancellation.
	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc

	closedMu sync.Mutex
	closed   bool
}

// New creates a lifecycle manager. The executor is mandatory; the pricer is
// a best-effort enhancement and may be nil, in which case submissions always
// use caller-supplied gas defaults.
func New(pricer GasPricer, executor SwapExecutor, opts ...Option) (*Manager, error) {
	if executor == nil {
		return nil, fmt.Errorf("swap executor cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		pricer:   pricer,
		executor: executor,
		cfg:      DefaultRetryConfig(),
		registry: newRegistry(),
		events:   newEventBus(),
		rootCtx:  ctx,
		stop:     cancel,
		monitors: map[uint64]*StuckTransactionMonitor{},
		cancels:  map[string]context.CancelFunc{},
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.cfg.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}

	m.breakers = newBreakerSet(circuitbreaker.Config{
		FailureThreshold: m.cfg.BreakerFailureThreshold,
		Cooldown:         m.cfg.BreakerCooldown,
	})

	return m, nil
}

// Close stops all monitor sweeps, waits for in-flight work to unwind and
// shuts down the event stream. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.closedMu.Lock()
	if m.closed {
		m.closedMu.Unlock()
		return
	}
	m.closed = true
	m.closedMu.Unlock()

	m.stop()
	m.wg.Wait()
	m.events.close()
}

func (m *Manager) isClosed() bool {
	m.closedMu.Lock()
	defer m.closedMu.Unlock()
	return m.closed
}

// Subscribe registers a status event subscriber. The returned function
// unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	return m.events.subscribe(buffer)
}

// Status returns a snapshot of the transaction state. The snapshot may lag
// the owning goroutine by one transition.
func (m *Manager) Status(id string) (*TransactionState, error) {
	st := m.registry.get(id)
	if st == nil {
		return nil, ErrUnknownTransaction
	}
	return st, nil
}

// Cancel aborts a transaction that has not reached the network yet. Once
// broadcast, the network has the transaction and the only remaining control
// is replacement via the stuck-transaction path.
func (m *Manager) Cancel(id string) error {
	st := m.registry.get(id)
	if st == nil {
		return ErrUnknownTransaction
	}
	if st.Status.Terminal() {
		return ErrTerminalState
	}
	if !st.Status.PreBroadcast() {
		return ErrNotCancellable
	}

	m.cancelsMu.Lock()
	cancel, ok := m.cancels[id]
	m.cancelsMu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}
	cancel()
	return nil
}

// PurgeTerminal removes terminal transaction states created before the
// cutoff, after the audit retention window has passed.
func (m *Manager) PurgeTerminal(olderThan time.Time) int {
	return m.registry.purgeTerminal(olderThan)
}

// BreakerStats returns the counters of a category breaker.
func (m *Manager) BreakerStats(category BreakerCategory) circuitbreaker.Stats {
	return m.breakers.category(category).Stats()
}

// AccountBreakerStats returns the counters of an account breaker.
func (m *Manager) AccountBreakerStats(account common.Address) circuitbreaker.Stats {
	return m.breakers.account(account).Stats()
}

// ResetBreaker forces a category breaker back to closed. Operator tooling
// only.
func (m *Manager) ResetBreaker(category BreakerCategory) {
	m.breakers.category(category).Reset()
}

// ChainReader returns the registered reader for the chain, or nil.
func (m *Manager) ChainReader(chainID uint64) ChainReader {
	if r, ok := m.readers.Load(chainID); ok {
		return r.(ChainReader)
	}
	return nil
}

// trackCancel registers the owning context's cancel function for the
// transaction so Cancel can reach it, and returns a cleanup func.
func (m *Manager) trackCancel(id string, cancel context.CancelFunc) func() {
	m.cancelsMu.Lock()
	m.cancels[id] = cancel
	m.cancelsMu.Unlock()
	return func() {
		m.cancelsMu.Lock()
		delete(m.cancels, id)
		m.cancelsMu.Unlock()
	}
}

// transition moves the state machine one step, stores a snapshot and emits
// the status event. errMsg annotates failure transitions.
func (m *Manager) transition(st *TransactionState, to Status, errMsg string) {
	st.Status = to
	m.registry.put(st)
	m.events.publish(StatusEvent{
		TxID:         st.ID,
		Status:       to,
		ChainID:      st.ChainID,
		Hash:         st.Hash,
		GasPriceGwei: st.Swap.GasPriceGwei,
		RetryCount:   st.RetryCount,
		Error:        errMsg,
		Time:         time.Now(),
	})
	logger.WithFields(logger.Fields{
		"tx_id":       st.ID,
		"chain_id":    st.ChainID,
		"status":      to,
		"retry_count": st.RetryCount,
		"gas_price":   st.Swap.GasPriceGwei,
		"error":       errMsg,
	}).Debug("Transaction state transition")
}

// ensureMonitor starts the stuck-transaction sweep for the chain if it is
// not already running.
func (m *Manager) ensureMonitor(chainID uint64) {
	reader := m.ChainReader(chainID)
	if reader == nil {
		return
	}

	m.monitorsMu.Lock()
	defer m.monitorsMu.Unlock()
	if _, ok := m.monitors[chainID]; ok {
		return
	}

	mon := newStuckTransactionMonitor(m, chainID, reader)
	m.monitors[chainID] = mon

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		mon.run(m.rootCtx)
	}()

	logger.WithFields(logger.Fields{
		"chain_id": chainID,
		"interval": m.cfg.MempoolCheckInterval,
	}).Info("Started stuck transaction monitor")
}

// recordTrade pushes the terminal Completed state to the audit sink.
// Best-effort: failure is logged, never propagated.
func (m *Manager) recordTrade(ctx context.Context, st *TransactionState) {
	if m.recorder == nil {
		return
	}

	var nonce uint64
	if st.Nonce != nil {
		nonce = *st.Nonce
	}
	amountIn := ""
	if st.Swap.AmountIn != nil {
		amountIn = st.Swap.AmountIn.String()
	}
	amountOut := ""
	if st.AmountOut != nil {
		amountOut = st.AmountOut.String()
	}
	record := &TradeRecord{
		TxID:                  st.ID,
		Account:               st.Account,
		ChainID:               st.ChainID,
		Hash:                  st.Hash,
		Nonce:                 nonce,
		TokenIn:               st.Swap.TokenIn,
		TokenOut:              st.Swap.TokenOut,
		AmountIn:              amountIn,
		AmountOut:             amountOut,
		GasUsed:               st.GasUsed,
		EffectiveGasPriceGwei: st.EffectiveGasPriceGwei,
		SavingsPercent:        st.SavingsPercent,
		RetryCount:            st.RetryCount,
		Simulated:             st.Simulated,
		CompletedAt:           time.Now(),
	}
	if err := m.recorder.RecordTrade(ctx, record); err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": st.ID,
			"error": err,
		}).Warn("Failed to record completed trade. Ignore and continue")
	}
}
