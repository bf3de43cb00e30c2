package txlifecycle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// stuckReason classifies what the sweep found wrong with a broadcast
// transaction. The reason picks the replacement multiplier.
type stuckReason string

const (
	reasonHealthy       stuckReason = "healthy"
	reasonStuckTimeout  stuckReason = "stuck_timeout"
	reasonGasTooLow     stuckReason = "gas_too_low"
	reasonDropped       stuckReason = "dropped"
	reasonNonceConflict stuckReason = "nonce_conflict"
)

// StuckTransactionMonitor is the per-chain sweep. On every tick it walks the
// chain's broadcast-but-unresolved transactions, settles the ones with a
// receipt, classifies the rest and replaces the stuck or dropped ones when
// replacement is economically worth it.
//
// The sweep is the sole writer of a transaction's registry entry after the
// submission goroutine hands over at Pending; within one sweep each account
// is processed serially so nonce observations stay consistent.
type StuckTransactionMonitor struct {
	mgr     *Manager
	chainID uint64
	reader  ChainReader
}

func newStuckTransactionMonitor(mgr *Manager, chainID uint64, reader ChainReader) *StuckTransactionMonitor {
	return &StuckTransactionMonitor{
		mgr:     mgr,
		chainID: chainID,
		reader:  reader,
	}
}

func (mon *StuckTransactionMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(mon.mgr.cfg.MempoolCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon.sweep(ctx)
		}
	}
}

// sweep is one full pass over the chain's active transactions.
func (mon *StuckTransactionMonitor) sweep(ctx context.Context) {
	active := mon.mgr.registry.activeOnChain(mon.chainID)
	if len(active) == 0 {
		return
	}

	// One network price query per sweep, shared by every classification.
	networkGwei, err := mon.reader.SuggestGasPriceGwei(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_id": mon.chainID,
			"error":    err,
		}).Warn("Failed to get network gas price. Skipping price-based classification this sweep")
		networkGwei = 0
	}

	byAccount := map[common.Address][]*TransactionState{}
	for _, st := range active {
		byAccount[st.Account] = append(byAccount[st.Account], st)
	}

	for account, txs := range byAccount {
		mon.detectNonceGap(ctx, account, txs)
		for _, st := range txs {
			mon.evaluate(ctx, st, networkGwei)
		}
	}
}

// detectNonceGap compares the account's lowest pending nonce against the
// node's fresh next-expected nonce. A mismatch means a missing or superseded
// transaction is blocking the queue; it is surfaced, never retried blindly,
// since a blind retry could duplicate intent.
func (mon *StuckTransactionMonitor) detectNonceGap(ctx context.Context, account common.Address, txs []*TransactionState) {
	var nonces []uint64
	for _, st := range txs {
		if st.Nonce != nil {
			nonces = append(nonces, *st.Nonce)
		}
	}
	if len(nonces) == 0 {
		return
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	lowest := nonces[0]

	nextExpected, err := mon.reader.PendingNonceAt(ctx, account)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_id": mon.chainID,
			"account":  account.Hex(),
			"error":    err,
		}).Warn("Failed to get pending nonce. Skipping nonce-gap check this sweep")
		return
	}
	if lowest == nextExpected {
		return
	}

	var detail string
	if lowest > nextExpected {
		detail = fmt.Sprintf(
			"nonce gap: lowest pending nonce %d but node expects %d, a missing transaction is blocking the queue",
			lowest, nextExpected,
		)
	} else {
		detail = fmt.Sprintf(
			"nonce gap: lowest pending nonce %d is below node's next expected %d, the slot was likely taken by another broadcast",
			lowest, nextExpected,
		)
	}

	logger.WithFields(logger.Fields{
		"chain_id":      mon.chainID,
		"account":       account.Hex(),
		"lowest_nonce":  lowest,
		"next_expected": nextExpected,
	}).Warn("Nonce gap detected")

	for _, st := range txs {
		mon.mgr.events.publish(StatusEvent{
			TxID:         st.ID,
			Status:       st.Status,
			ChainID:      st.ChainID,
			Hash:         st.Hash,
			GasPriceGwei: st.Swap.GasPriceGwei,
			RetryCount:   st.RetryCount,
			Error:        detail,
		})
	}
}

// evaluate settles, classifies and possibly replaces one transaction.
func (mon *StuckTransactionMonitor) evaluate(ctx context.Context, st *TransactionState, networkGwei float64) {
	// A receipt settles the transaction regardless of any staleness signal.
	receipt, err := mon.reader.TransactionReceipt(ctx, st.Hash)
	if err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": st.ID,
			"hash":  st.Hash.Hex(),
			"error": err,
		}).Debug("Receipt query failed. Will retry next sweep")
		return
	}
	if receipt != nil {
		mon.mgr.settleReceipt(st, receipt)
		return
	}

	reason := mon.classify(ctx, st, networkGwei)
	switch reason {
	case reasonHealthy:
		return
	case reasonNonceConflict:
		holder, _ := mon.mgr.registry.confirmedNonceHolder(st.ID, st.Account, st.ChainID, *st.Nonce)
		msg := fmt.Sprintf("nonce %d already confirmed by transaction %s", *st.Nonce, holder)
		mon.mgr.transition(st, StatusFailed, msg)
		return
	case reasonDropped:
		if st.Status != StatusMempoolDropped {
			mon.mgr.transition(st, StatusMempoolDropped, "")
		}
	}

	mon.maybeReplace(ctx, st, reason, networkGwei)
}

// classify decides why (if at all) the transaction needs intervention.
// Conflict beats dropped beats underpriced beats timeout; a transaction with
// gas below half the network price is stuck no matter how recently it was
// broadcast.
func (mon *StuckTransactionMonitor) classify(ctx context.Context, st *TransactionState, networkGwei float64) stuckReason {
	if st.Nonce != nil {
		if _, conflicted := mon.mgr.registry.confirmedNonceHolder(st.ID, st.Account, st.ChainID, *st.Nonce); conflicted {
			return reasonNonceConflict
		}
	}

	inMempool, err := mon.reader.TransactionByHash(ctx, st.Hash)
	if err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": st.ID,
			"hash":  st.Hash.Hex(),
			"error": err,
		}).Debug("Mempool query failed. Treating as still pending")
		inMempool = true
	}
	if !inMempool && time.Since(mon.lastBroadcastAt(st)) > mon.mgr.cfg.MempoolDropTimeout {
		return reasonDropped
	}

	threshold := mon.mgr.cfg.StuckThreshold
	if networkGwei > 0 && st.Swap.GasPriceGwei > 0 {
		ratio := st.Swap.GasPriceGwei / networkGwei
		if ratio < 0.5 {
			return reasonGasTooLow
		}
		// Underpriced transactions legitimately take longer; stretch the
		// threshold instead of thrashing with replacements.
		if ratio < 0.8 {
			threshold = time.Duration(1.5 * float64(threshold))
		}
	}
	if time.Since(mon.lastBroadcastAt(st)) > threshold {
		return reasonStuckTimeout
	}
	return reasonHealthy
}

// lastBroadcastAt is the timestamp staleness is measured from: the most
// recent broadcast, not the original submission.
func (mon *StuckTransactionMonitor) lastBroadcastAt(st *TransactionState) time.Time {
	if st.LastRetryAt.After(st.SubmittedAt) {
		return st.LastRetryAt
	}
	return st.SubmittedAt
}

// maybeReplace applies the worthiness gate and, when it passes, rebroadcasts
// the same logical transaction at a bumped price reusing the nonce.
func (mon *StuckTransactionMonitor) maybeReplace(ctx context.Context, st *TransactionState, reason stuckReason, networkGwei float64) {
	cfg := mon.mgr.cfg

	var multiplier float64
	switch reason {
	case reasonGasTooLow:
		multiplier = cfg.GasTooLowReplacementMultiplier
	case reasonDropped:
		multiplier = cfg.DroppedReplacementMultiplier
	default:
		multiplier = cfg.ReplacementMultiplier
	}

	current := st.Swap.GasPriceGwei
	proposed := current * multiplier
	if proposed > cfg.GasCeilingGwei {
		proposed = cfg.GasCeilingGwei
	}
	// A gas-too-low replacement must actually catch up with the network.
	if reason == reasonGasTooLow && networkGwei > proposed && networkGwei <= cfg.GasCeilingGwei {
		proposed = networkGwei
	}

	if ok, why := mon.replacementWorthIt(st, current, proposed); !ok {
		logger.WithFields(logger.Fields{
			"tx_id":        st.ID,
			"reason":       reason,
			"current_gas":  current,
			"proposed_gas": proposed,
			"skip":         why,
		}).Info("Skipping replacement, not worth a new broadcast")
		return
	}

	mon.replace(ctx, st, reason, proposed)
}

// replacementWorthIt is the economic gate: bounded replacement count, a
// meaningful price bump, and a replacement cost that stays a small fraction
// of the trade value.
func (mon *StuckTransactionMonitor) replacementWorthIt(st *TransactionState, current, proposed float64) (bool, string) {
	cfg := mon.mgr.cfg

	if st.ReplacementCount >= cfg.MaxReplacements {
		return false, fmt.Sprintf("already replaced %d times", st.ReplacementCount)
	}
	if current > 0 {
		increasePercent := (proposed - current) / current * 100
		if increasePercent < cfg.MinReplacementIncreasePercent {
			return false, fmt.Sprintf("price increase %.1f%% below minimum %.1f%%", increasePercent, cfg.MinReplacementIncreasePercent)
		}
	}
	// Scale the pricer's original cost estimate by the price bump to estimate
	// the replacement's cost. Without an estimate the cost gate cannot fire.
	if st.EstimatedCostUSD > 0 && st.Swap.AmountUSD > 0 && st.OriginalGasPriceGwei > 0 {
		replacementCostUSD := st.EstimatedCostUSD * proposed / st.OriginalGasPriceGwei
		if replacementCostUSD > st.Swap.AmountUSD*cfg.MaxReplacementCostPercent/100 {
			return false, fmt.Sprintf("replacement cost $%.2f exceeds %.1f%% of trade value", replacementCostUSD, cfg.MaxReplacementCostPercent)
		}
	}
	return true, ""
}

// replace rebroadcasts the transaction at the proposed price with the same
// nonce. Success swaps in the new hash and restarts the confirmation watch;
// failure is recorded and left for the next sweep or the retry budget.
func (mon *StuckTransactionMonitor) replace(ctx context.Context, st *TransactionState, reason stuckReason, proposedGwei float64) {
	params := st.Swap
	params.GasPriceGwei = proposedGwei
	if st.Nonce != nil {
		n := *st.Nonce
		params.Nonce = &n
	}

	logger.WithFields(logger.Fields{
		"tx_id":    st.ID,
		"reason":   reason,
		"old_gas":  st.Swap.GasPriceGwei,
		"new_gas":  proposedGwei,
		"old_hash": st.Hash.Hex(),
	}).Info("Replacing transaction")

	res, err := mon.mgr.executor.Execute(ctx, params, st.Account)
	if err != nil {
		class := Classify(err)
		mon.mgr.breakers.recordSubmissionOutcome(st.Account, false)
		st.AttemptErrors = append(st.AttemptErrors, AttemptError{
			Attempt: st.RetryCount + st.ReplacementCount + 1,
			Class:   class,
			Message: err.Error(),
			Time:    time.Now(),
		})
		if !class.Retryable(mon.mgr.cfg.RetryContractReverts) {
			mon.mgr.transition(st, StatusFailed, err.Error())
			return
		}
		// Keep the current state; the next sweep re-evaluates.
		mon.mgr.registry.put(st)
		logger.WithFields(logger.Fields{
			"tx_id":       st.ID,
			"error_class": class,
			"error":       err,
		}).Warn("Replacement broadcast failed. Will re-evaluate next sweep")
		return
	}

	mon.mgr.breakers.recordSubmissionOutcome(st.Account, true)
	st.Swap.GasPriceGwei = proposedGwei
	st.Hash = res.Hash
	nonce := res.Nonce
	st.Nonce = &nonce
	if res.AmountOut != nil {
		st.AmountOut = new(big.Int).Set(res.AmountOut)
	}
	st.ReplacementCount++
	st.EscalatedGasPrices = append(st.EscalatedGasPrices, proposedGwei)
	st.LastRetryAt = time.Now()
	m := mon.mgr
	m.transition(st, StatusPending, "")

	if res.BlockNumber != 0 {
		st.BlockNumber = res.BlockNumber
		st.GasUsed = res.GasUsed
		st.EffectiveGasPriceGwei = res.EffectiveGasPriceGwei
		st.ConfirmedAt = time.Now()
		m.transition(st, StatusConfirmed, "")
		m.transition(st, StatusCompleted, "")
		m.recordTrade(m.rootCtx, st)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchConfirmation(st.Clone())
	}()
}
