package txlifecycle

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// registry is the shared map of transaction states keyed by transaction id.
// Writers are the owning submission goroutine (until the transaction is
// broadcast) and the per-chain sweep (after). Both follow the same pattern:
// read your own entry, mutate a local copy, write it back. Readers get deep
// copies and must tolerate a possibly-stale snapshot.
type registry struct {
	mu  sync.RWMutex
	txs map[string]*TransactionState
}

func newRegistry() *registry {
	return &registry{txs: map[string]*TransactionState{}}
}

// put stores a snapshot of the state. Once a terminal snapshot is stored,
// later writes for the same id are rejected: terminal states are immutable.
func (r *registry) put(st *TransactionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.txs[st.ID]; ok && existing.Status.Terminal() {
		return
	}
	r.txs[st.ID] = st.Clone()
}

// get returns a deep copy of the state, or nil if unknown.
func (r *registry) get(id string) *TransactionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.txs[id].Clone()
}

// activeOnChain returns copies of every broadcast-but-unresolved transaction
// on the chain, for the stuck-transaction sweep. Entries without a broadcast
// hash are still owned by their submission retry loop (a failed attempt
// waiting out its backoff) and are excluded: only the owner may broadcast
// until the first submission sticks.
func (r *registry) activeOnChain(chainID uint64) []*TransactionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TransactionState
	for _, st := range r.txs {
		if st.ChainID != chainID || !st.Status.Active() {
			continue
		}
		if st.Hash == (common.Hash{}) {
			continue
		}
		out = append(out, st.Clone())
	}
	return out
}

// confirmedNonceHolder reports whether a different transaction for the same
// account has already confirmed the given nonce.
func (r *registry) confirmedNonceHolder(excludeID string, account common.Address, chainID uint64, nonce uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, st := range r.txs {
		if id == excludeID || st.ChainID != chainID || st.Account != account {
			continue
		}
		if st.Nonce == nil || *st.Nonce != nonce {
			continue
		}
		if st.Status == StatusConfirmed || st.Status == StatusCompleted {
			return id, true
		}
	}
	return "", false
}

// purgeTerminal removes terminal states older than the retention cutoff and
// returns how many were purged. CreatedAt is the retention anchor so audit
// windows are measured from submission, not from completion.
func (r *registry) purgeTerminal(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, st := range r.txs {
		if st.Status.Terminal() && st.CreatedAt.Before(olderThan) {
			delete(r.txs, id)
			purged++
		}
	}
	return purged
}

// size returns the number of tracked transactions.
func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.txs)
}
