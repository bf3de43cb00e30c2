package txlifecycle

import (
	"math"
	"math/rand"
	"time"
)

// RetryController owns the exponential-backoff-with-jitter and
// gas-escalation policy. It is pure math over a RetryConfig: the lifecycle
// manager decides when to call it, it decides with what.
type RetryController struct {
	cfg RetryConfig

	// randFloat is injectable so tests can pin jitter.
	randFloat func() float64
}

// NewRetryController creates a controller for the given validated config.
func NewRetryController(cfg RetryConfig) *RetryController {
	return &RetryController{
		cfg:       cfg,
		randFloat: rand.Float64,
	}
}

// BaseDelay returns the deterministic backoff component for the given retry
// count (1-based): min(initial × multiplier^(retryCount-1), max). The base
// component is non-decreasing in retryCount by construction.
func (rc *RetryController) BaseDelay(retryCount int, simulated bool) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	initial := rc.cfg.initialDelay(simulated)
	max := rc.cfg.maxDelay(simulated)

	base := float64(initial) * math.Pow(rc.cfg.BackoffMultiplier, float64(retryCount-1))
	if base > float64(max) {
		return max
	}
	return time.Duration(base)
}

// NextDelay returns the delay before the given retry: the base component
// plus up to JitterFraction of randomized additive jitter. Jitter only
// perturbs the backoff curve, it never reorders or negates it.
func (rc *RetryController) NextDelay(retryCount int, simulated bool) time.Duration {
	base := rc.BaseDelay(retryCount, simulated)
	if rc.cfg.JitterFraction <= 0 {
		return base
	}
	jitter := time.Duration(rc.randFloat() * rc.cfg.JitterFraction * float64(base))
	return base + jitter
}

// EscalatedGasPrice returns the gas price for the given retry count,
// compounding the escalation multiplier from the original submission price
// and clamping at the configured ceiling. Once the ceiling is reached,
// subsequent retries keep using the ceiling rather than erroring out.
func (rc *RetryController) EscalatedGasPrice(originalGwei float64, retryCount int) float64 {
	if retryCount <= 0 {
		return math.Min(originalGwei, rc.cfg.GasCeilingGwei)
	}
	escalated := originalGwei * math.Pow(rc.cfg.GasEscalationMultiplier, float64(retryCount))
	if escalated > rc.cfg.GasCeilingGwei {
		return rc.cfg.GasCeilingGwei
	}
	return escalated
}

// ShouldRetry decides, after a failed attempt, whether another broadcast is
// allowed: the class must be retryable and the retry budget not exhausted.
func (rc *RetryController) ShouldRetry(class ErrorClass, retryCount int) bool {
	if !class.Retryable(rc.cfg.RetryContractReverts) {
		return false
	}
	return retryCount < rc.cfg.MaxRetries
}
