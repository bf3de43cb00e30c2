package txlifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapforge/txlifecycle/internal/circuitbreaker"
)

// halfOpenBreakerSet returns a set whose submission, executor and account
// breakers for testAccount1 are all in half-open.
func halfOpenBreakerSet(t *testing.T) *breakerSet {
	t.Helper()
	bs := newBreakerSet(circuitbreaker.Config{
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
	})
	bs.recordSubmissionOutcome(testAccount1, false)
	bs.recordSubmissionOutcome(testAccount1, false)
	require.Equal(t, circuitbreaker.StateOpen, bs.category(BreakerSubmission).State())
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, circuitbreaker.StateHalfOpen, bs.category(BreakerSubmission).State())
	return bs
}

func TestSubmissionGateReleaseFreesHalfOpenSlots(t *testing.T) {
	bs := halfOpenBreakerSet(t)

	reasons, release := bs.submissionGate(testAccount1)
	require.Empty(t, reasons)

	// While the trial slots are claimed, a second submission is rejected.
	blocked, _ := bs.submissionGate(testAccount1)
	require.NotEmpty(t, blocked)

	// A caller that exits before broadcasting (cancellation) hands the slots
	// back; the next submission may claim them instead of being rejected
	// forever.
	release()
	reasons, release = bs.submissionGate(testAccount1)
	assert.Empty(t, reasons, "released trial slots must be claimable again")
	release()
}

func TestSubmissionGateRejectionReleasesClaimedSlots(t *testing.T) {
	bs := halfOpenBreakerSet(t)

	// Only the account breaker for a second account is open; the category
	// slots claimed before reaching it must be handed back on rejection.
	bs.account(testAccount2).RecordFailure()
	bs.account(testAccount2).RecordFailure()
	require.Equal(t, circuitbreaker.StateOpen, bs.account(testAccount2).State())

	reasons, _ := bs.submissionGate(testAccount2)
	require.NotEmpty(t, reasons)

	assert.True(t, bs.category(BreakerSubmission).Allow(), "category slot released when the gate rejected")
}
