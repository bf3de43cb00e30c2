package txlifecycle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swapforge/txlifecycle/internal/circuitbreaker"
)

// BreakerCategory identifies an independent failure domain. A pricer outage
// must not block submissions that could proceed with default pricing, so
// each category gets its own breaker instance.
type BreakerCategory string

const (
	BreakerSubmission BreakerCategory = "submission"
	BreakerPricer     BreakerCategory = "pricer"
	BreakerExecutor   BreakerCategory = "executor"
)

// breakerSet holds one breaker per category plus one per account, all
// sharing the same threshold/cooldown configuration. Per-account streaks are
// tracked separately from chain-wide breakers so one bad actor's account
// does not halt the whole chain.
type breakerSet struct {
	cfg        circuitbreaker.Config
	categories sync.Map // map[BreakerCategory]*circuitbreaker.Breaker
	accounts   sync.Map // map[common.Address]*circuitbreaker.Breaker
}

func newBreakerSet(cfg circuitbreaker.Config) *breakerSet {
	return &breakerSet{cfg: cfg}
}

func (bs *breakerSet) category(c BreakerCategory) *circuitbreaker.Breaker {
	b, _ := bs.categories.LoadOrStore(c, circuitbreaker.New(bs.cfg))
	return b.(*circuitbreaker.Breaker)
}

func (bs *breakerSet) account(a common.Address) *circuitbreaker.Breaker {
	b, _ := bs.accounts.LoadOrStore(a, circuitbreaker.New(bs.cfg))
	return b.(*circuitbreaker.Breaker)
}

// submissionGate checks every breaker that gates a new submission for the
// account and returns the list of rejecting ones. An empty list means the
// submission may proceed; the claimed half-open trial slots are then settled
// by the broadcast outcome via recordSubmissionOutcome, or handed back with
// the returned release func when the caller exits before any broadcast
// (cancellation). When any breaker rejects, slots already claimed from the
// others are released here, so a blocked submission cannot strand a breaker
// in half-open either.
func (bs *breakerSet) submissionGate(account common.Address) ([]string, func()) {
	gates := []struct {
		name string
		b    *circuitbreaker.Breaker
	}{
		{"submission breaker", bs.category(BreakerSubmission)},
		{"executor breaker", bs.category(BreakerExecutor)},
		{fmt.Sprintf("account breaker for %s", account.Hex()), bs.account(account)},
	}

	var reasons []string
	var claimed []*circuitbreaker.Breaker
	for _, g := range gates {
		if g.b.Allow() {
			claimed = append(claimed, g.b)
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s is %s", g.name, g.b.State()))
	}
	release := func() {
		for _, b := range claimed {
			b.ReleaseTrial()
		}
	}
	if len(reasons) > 0 {
		release()
		return reasons, func() {}
	}
	return nil, release
}

// recordSubmissionOutcome feeds one broadcast attempt's outcome into every
// breaker that gated it.
func (bs *breakerSet) recordSubmissionOutcome(account common.Address, ok bool) {
	if ok {
		bs.category(BreakerSubmission).RecordSuccess()
		bs.category(BreakerExecutor).RecordSuccess()
		bs.account(account).RecordSuccess()
		return
	}
	bs.category(BreakerSubmission).RecordFailure()
	bs.category(BreakerExecutor).RecordFailure()
	bs.account(account).RecordFailure()
}
