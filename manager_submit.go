package txlifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Submit runs the pre-broadcast pipeline (gas optimization, circuit breaker
// gate) and the broadcast-with-retries loop, returning once the transaction
// is accepted by the network or reaches a terminal state. Confirmation is
// watched asynchronously; subscribe to status events or poll Status for the
// Confirmed/Completed transitions.
//
// A circuit breaker rejection is a first-class outcome, not an error: the
// result has Blocked set and BlockedReasons listing every open breaker, and
// the returned error is nil.
func (m *Manager) Submit(ctx context.Context, req SubmissionRequest) (*SubmissionResult, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if m.ChainReader(req.Swap.ChainID) == nil {
		return nil, errors.Join(ErrNoChainReader, fmt.Errorf("chain id %d", req.Swap.ChainID))
	}

	cfg := m.cfg
	if req.RetryPolicy != nil {
		cfg = *req.RetryPolicy
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid per-request retry policy: %w", err)
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	st := &TransactionState{
		ID:         id,
		Account:    req.Account,
		ChainID:    req.Swap.ChainID,
		Status:     StatusPreparing,
		Swap:       req.Swap,
		MaxRetries: cfg.MaxRetries,
		CreatedAt:  time.Now(),
		Simulated:  req.Simulated,
	}

	// Pre-broadcast cancellation reaches the pipeline through this context.
	// Once the first broadcast happens the cancel hook is removed and Cancel
	// refuses the transaction.
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	untrack := m.trackCancel(id, cancel)

	m.transition(st, StatusPreparing, "")

	if cancelled := m.checkCancelled(txCtx, st); cancelled != nil {
		untrack()
		return cancelled, nil
	}

	m.optimizeGas(txCtx, st, req)

	if cancelled := m.checkCancelled(txCtx, st); cancelled != nil {
		untrack()
		return cancelled, nil
	}

	m.transition(st, StatusCircuitBreakerCheck, "")
	releaseGate := func() {}
	if !req.BypassCircuitBreaker {
		reasons, release := m.breakers.submissionGate(req.Account)
		if len(reasons) > 0 {
			m.transition(st, StatusBlockedByCircuitBreaker, strings.Join(reasons, "; "))
			untrack()
			logger.WithFields(logger.Fields{
				"tx_id":   st.ID,
				"account": st.Account.Hex(),
				"reasons": reasons,
			}).Warn("Submission blocked by circuit breaker")
			return &SubmissionResult{
				State:          m.registry.get(id),
				Blocked:        true,
				BlockedReasons: reasons,
			}, nil
		}
		releaseGate = release
	} else {
		logger.WithFields(logger.Fields{
			"tx_id":   st.ID,
			"account": st.Account.Hex(),
		}).Warn("Circuit breaker bypassed by operator override")
	}

	m.transition(st, StatusReadyToSubmit, "")

	if cancelled := m.checkCancelled(txCtx, st); cancelled != nil {
		releaseGate()
		untrack()
		return cancelled, nil
	}

	return m.runAttempts(ctx, txCtx, st, cfg, untrack, releaseGate)
}

// validateRequest rejects structurally invalid submissions before any state
// is registered.
func validateRequest(req SubmissionRequest) error {
	if req.Account == zeroAddress {
		return ErrAccountZero
	}
	if req.Swap.ChainID == 0 {
		return errors.Join(ErrInvalidSwapParams, fmt.Errorf("chain id cannot be zero"))
	}
	if req.Swap.AmountIn == nil || req.Swap.AmountIn.Sign() <= 0 {
		return errors.Join(ErrInvalidSwapParams, fmt.Errorf("amount in must be positive"))
	}
	if req.Swap.TokenIn == req.Swap.TokenOut {
		return errors.Join(ErrInvalidSwapParams, fmt.Errorf("token in and token out are identical"))
	}
	if !req.Swap.Deadline.IsZero() && req.Swap.Deadline.Before(time.Now()) {
		return errors.Join(ErrInvalidSwapParams, fmt.Errorf("deadline already passed"))
	}
	return nil
}

// checkCancelled converts a pre-broadcast context cancellation into a
// terminal Cancelled result, or returns nil when the pipeline may continue.
func (m *Manager) checkCancelled(ctx context.Context, st *TransactionState) *SubmissionResult {
	select {
	case <-ctx.Done():
	default:
		return nil
	}
	m.transition(st, StatusCancelled, "cancelled before broadcast")
	return &SubmissionResult{State: m.registry.get(st.ID)}
}

// optimizeGas asks the pricer for a recommendation and applies it. A pricer
// failure or an open pricer breaker degrades to the caller-supplied gas
// parameters; it never fails the submission.
func (m *Manager) optimizeGas(ctx context.Context, st *TransactionState, req SubmissionRequest) {
	m.transition(st, StatusGasOptimizing, "")

	if m.pricer != nil {
		pb := m.breakers.category(BreakerPricer)
		if pb.Allow() {
			quote, err := m.pricer.Optimize(ctx, GasRequest{
				ChainID:   st.ChainID,
				TradeType: st.Swap.TradeType,
				AmountUSD: st.Swap.AmountUSD,
				Strategy:  req.Strategy,
				Simulated: st.Simulated,
			})
			if err == nil && quote != nil {
				pb.RecordSuccess()
				st.Swap.GasPriceGwei = quote.GasPriceGwei
				if quote.GasLimit > 0 {
					st.Swap.GasLimit = quote.GasLimit
				}
				st.EstimatedCostUSD = quote.EstimatedCostUSD
				st.SavingsPercent = quote.SavingsPercent
				return
			}
			pb.RecordFailure()
			logger.WithFields(logger.Fields{
				"tx_id": st.ID,
				"error": err,
			}).Warn("Gas pricer failed. Falling back to default gas parameters")
		} else {
			logger.WithFields(logger.Fields{
				"tx_id": st.ID,
				"state": pb.State(),
			}).Info("Gas pricer breaker not allowing calls. Using default gas parameters")
		}
	}

	// Degraded path. Take the network suggestion when the caller supplied no
	// gas price; escalation math needs a non-zero base.
	if st.Swap.GasPriceGwei <= 0 {
		if reader := m.ChainReader(st.ChainID); reader != nil {
			if gwei, err := reader.SuggestGasPriceGwei(ctx); err == nil && gwei > 0 {
				st.Swap.GasPriceGwei = gwei
			} else if err != nil {
				logger.WithFields(logger.Fields{
					"tx_id": st.ID,
					"error": err,
				}).Warn("Failed to get suggested gas price. Leaving gas price to executor")
			}
		}
	}
}

// runAttempts is the broadcast loop: attempt, classify failure, back off,
// escalate gas, attempt again, bounded by the retry budget. The retryCount
// equals the number of re-broadcasts performed so far; attempt gas is
// original x escalation^retryCount clamped at the ceiling. releaseGate hands
// back the circuit breaker trial slots if the loop exits before the first
// broadcast; once Execute runs, recordSubmissionOutcome settles them.
func (m *Manager) runAttempts(
	ctx context.Context,
	txCtx context.Context,
	st *TransactionState,
	cfg RetryConfig,
	untrack func(),
	releaseGate func(),
) (*SubmissionResult, error) {
	rc := NewRetryController(cfg)
	st.OriginalGasPriceGwei = st.Swap.GasPriceGwei

	var lastErr error
	for retryCount := 0; ; retryCount++ {
		st.RetryCount = retryCount
		st.Swap.GasPriceGwei = rc.EscalatedGasPrice(st.OriginalGasPriceGwei, retryCount)

		if retryCount > 0 {
			st.EscalatedGasPrices = append(st.EscalatedGasPrices, st.Swap.GasPriceGwei)
			m.transition(st, StatusGasEscalated, "")
		}

		if retryCount == 0 {
			if cancelled := m.checkCancelled(txCtx, st); cancelled != nil {
				releaseGate()
				untrack()
				return cancelled, nil
			}
			// First broadcast is imminent; from here on Cancel must refuse.
			untrack()
		}

		m.transition(st, StatusSubmitted, "")
		if st.SubmittedAt.IsZero() {
			st.SubmittedAt = time.Now()
		}

		res, err := m.executor.Execute(ctx, st.Swap, st.Account)
		if err == nil && res != nil {
			m.breakers.recordSubmissionOutcome(st.Account, true)
			return m.afterBroadcast(st, res), nil
		}
		if err == nil {
			err = fmt.Errorf("executor returned no result")
		}
		lastErr = err

		class := Classify(err)
		m.breakers.recordSubmissionOutcome(st.Account, false)
		st.AttemptErrors = append(st.AttemptErrors, AttemptError{
			Attempt: retryCount + 1,
			Class:   class,
			Message: err.Error(),
			Time:    time.Now(),
		})
		logger.WithFields(logger.Fields{
			"tx_id":       st.ID,
			"attempt":     retryCount + 1,
			"error_class": class,
			"error":       err,
		}).Warn("Swap broadcast attempt failed")

		if !rc.ShouldRetry(class, retryCount) {
			m.transition(st, StatusFailed, err.Error())
			if !class.Retryable(cfg.RetryContractReverts) {
				return &SubmissionResult{State: m.registry.get(st.ID)},
					errors.Join(ErrNotRetryable, err)
			}
			return &SubmissionResult{State: m.registry.get(st.ID)},
				errors.Join(ErrOutOfRetries, lastErr)
		}

		m.transition(st, StatusRetrying, err.Error())
		delay := rc.NextDelay(retryCount+1, st.Simulated)
		st.DelaysUsed = append(st.DelaysUsed, delay)
		st.LastRetryAt = time.Now()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.transition(st, StatusFailed, ctx.Err().Error())
			return &SubmissionResult{State: m.registry.get(st.ID)},
				errors.Join(lastErr, ctx.Err())
		case <-m.rootCtx.Done():
			m.transition(st, StatusFailed, "manager shutting down")
			return &SubmissionResult{State: m.registry.get(st.ID)},
				errors.Join(lastErr, ErrManagerClosed)
		}
	}
}

// afterBroadcast records the broadcast artifacts, transitions to Pending and
// hands confirmation over to the asynchronous watch. An executor that
// already waited for mining (simulated runs do) short-circuits straight to
// the terminal path.
func (m *Manager) afterBroadcast(st *TransactionState, res *SwapResult) *SubmissionResult {
	st.Hash = res.Hash
	nonce := res.Nonce
	st.Nonce = &nonce
	if res.AmountOut != nil {
		st.AmountOut = new(big.Int).Set(res.AmountOut)
	}
	m.transition(st, StatusPending, "")
	m.ensureMonitor(st.ChainID)

	if res.BlockNumber != 0 {
		st.BlockNumber = res.BlockNumber
		st.GasUsed = res.GasUsed
		st.EffectiveGasPriceGwei = res.EffectiveGasPriceGwei
		st.ConfirmedAt = time.Now()
		m.transition(st, StatusConfirmed, "")
		m.transition(st, StatusCompleted, "")
		m.recordTrade(m.rootCtx, st)
	} else {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watchConfirmation(st.Clone())
		}()
	}

	return &SubmissionResult{
		State:          m.registry.get(st.ID),
		SavingsPercent: st.SavingsPercent,
	}
}

// watchConfirmation polls for the transaction receipt until it appears or
// the watched broadcast is superseded by a replacement. Stuck and dropped
// handling is the per-chain sweep's job; this watch only settles the happy
// path.
func (m *Manager) watchConfirmation(st *TransactionState) {
	reader := m.ChainReader(st.ChainID)
	if reader == nil {
		return
	}

	poll := 3 * time.Second
	if st.Simulated {
		poll = 50 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-ticker.C:
		}

		latest := m.registry.get(st.ID)
		if latest == nil || latest.Status.Terminal() {
			return
		}
		if latest.Hash != st.Hash {
			// Replaced by the sweep; the replacement owns confirmation now.
			return
		}

		receipt, err := reader.TransactionReceipt(m.rootCtx, st.Hash)
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx_id": st.ID,
				"hash":  st.Hash.Hex(),
				"error": err,
			}).Debug("Receipt poll failed. Will retry")
			continue
		}
		if receipt == nil {
			continue
		}

		m.settleReceipt(latest, receipt)
		return
	}
}

// settleReceipt applies a found receipt: success goes Confirmed then
// Completed with the trade recorded; an on-chain revert goes Failed.
func (m *Manager) settleReceipt(st *TransactionState, receipt *types.Receipt) {
	if receipt.BlockNumber != nil {
		st.BlockNumber = receipt.BlockNumber.Uint64()
	}
	st.GasUsed = receipt.GasUsed
	if receipt.EffectiveGasPrice != nil {
		st.EffectiveGasPriceGwei = weiToGwei(receipt.EffectiveGasPrice)
	}
	st.ConfirmedAt = time.Now()

	if receipt.Status == types.ReceiptStatusFailed {
		m.transition(st, StatusFailed, "transaction reverted on-chain")
		return
	}

	m.transition(st, StatusConfirmed, "")
	m.transition(st, StatusCompleted, "")
	m.recordTrade(m.rootCtx, st)
}
