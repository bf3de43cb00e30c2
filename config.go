package txlifecycle

import (
	"fmt"
	"time"
)

// Default retry and monitoring constants. The replacement thresholds
// (minimum bump percent, cost margin, per-reason multipliers) are hand-tuned
// operational defaults, not business rules; override them per manager or per
// request when the target chain behaves differently.
const (
	DefaultMaxRetries              = 3
	DefaultInitialDelay            = 2 * time.Second
	DefaultMaxDelay                = 30 * time.Second
	DefaultBackoffMultiplier       = 2.0
	DefaultJitterFraction          = 0.25
	DefaultGasEscalationMultiplier = 1.15
	DefaultGasCeilingGwei          = 500.0

	DefaultMempoolCheckInterval = 15 * time.Second
	DefaultStuckThreshold       = 2 * time.Minute
	DefaultMempoolDropTimeout   = 5 * time.Minute

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 30 * time.Second

	DefaultGasTooLowReplacementMultiplier = 1.5
	DefaultDroppedReplacementMultiplier   = 1.3
	DefaultReplacementMultiplier          = 1.2
	DefaultMinReplacementIncreasePercent  = 10.0
	DefaultMaxReplacementCostPercent      = 5.0
	DefaultMaxReplacements                = 2

	// Paper-mode timing. Simulated submissions use much smaller delays but
	// identical multiplier and jitter logic.
	DefaultPaperInitialDelay = 50 * time.Millisecond
	DefaultPaperMaxDelay     = 500 * time.Millisecond
)

// RetryConfig is the immutable retry, escalation and monitoring policy for
// one manager or one submission. Construct it with DefaultRetryConfig and
// adjust fields; Validate rejects invalid combinations at the boundary
// rather than at first use.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFraction    float64

	GasEscalationMultiplier float64
	GasCeilingGwei          float64

	MempoolCheckInterval time.Duration
	StuckThreshold       time.Duration
	MempoolDropTimeout   time.Duration

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Replacement policy for the stuck-transaction sweep.
	GasTooLowReplacementMultiplier float64
	DroppedReplacementMultiplier   float64
	ReplacementMultiplier          float64
	MinReplacementIncreasePercent  float64
	MaxReplacementCostPercent      float64
	MaxReplacements                int

	// RetryContractReverts opts contract reverts into the retry loop.
	// Default false: a deterministic revert only burns gas on retry.
	RetryContractReverts bool

	// Paper-mode timing overrides. Timing only, never correctness.
	PaperInitialDelay time.Duration
	PaperMaxDelay     time.Duration
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:                     DefaultMaxRetries,
		InitialDelay:                   DefaultInitialDelay,
		MaxDelay:                       DefaultMaxDelay,
		BackoffMultiplier:              DefaultBackoffMultiplier,
		JitterFraction:                 DefaultJitterFraction,
		GasEscalationMultiplier:        DefaultGasEscalationMultiplier,
		GasCeilingGwei:                 DefaultGasCeilingGwei,
		MempoolCheckInterval:           DefaultMempoolCheckInterval,
		StuckThreshold:                 DefaultStuckThreshold,
		MempoolDropTimeout:             DefaultMempoolDropTimeout,
		BreakerFailureThreshold:        DefaultBreakerFailureThreshold,
		BreakerCooldown:                DefaultBreakerCooldown,
		GasTooLowReplacementMultiplier: DefaultGasTooLowReplacementMultiplier,
		DroppedReplacementMultiplier:   DefaultDroppedReplacementMultiplier,
		ReplacementMultiplier:          DefaultReplacementMultiplier,
		MinReplacementIncreasePercent:  DefaultMinReplacementIncreasePercent,
		MaxReplacementCostPercent:      DefaultMaxReplacementCostPercent,
		MaxReplacements:                DefaultMaxReplacements,
		PaperInitialDelay:              DefaultPaperInitialDelay,
		PaperMaxDelay:                  DefaultPaperMaxDelay,
	}
}

// Validate rejects out-of-range values. A zero-value RetryConfig is invalid
// on purpose: policy must be stated, not defaulted silently.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %s must be >= initial delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %f", c.BackoffMultiplier)
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be in [0, 1], got %f", c.JitterFraction)
	}
	if c.GasEscalationMultiplier < 1 {
		return fmt.Errorf("gas escalation multiplier must be >= 1, got %f", c.GasEscalationMultiplier)
	}
	if c.GasCeilingGwei <= 0 {
		return fmt.Errorf("gas ceiling must be positive, got %f", c.GasCeilingGwei)
	}
	if c.MempoolCheckInterval <= 0 {
		return fmt.Errorf("mempool check interval must be positive, got %s", c.MempoolCheckInterval)
	}
	if c.StuckThreshold <= 0 {
		return fmt.Errorf("stuck threshold must be positive, got %s", c.StuckThreshold)
	}
	if c.MempoolDropTimeout <= 0 {
		return fmt.Errorf("mempool drop timeout must be positive, got %s", c.MempoolDropTimeout)
	}
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive, got %d", c.BreakerFailureThreshold)
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive, got %s", c.BreakerCooldown)
	}
	if c.GasTooLowReplacementMultiplier < 1 || c.DroppedReplacementMultiplier < 1 || c.ReplacementMultiplier < 1 {
		return fmt.Errorf("replacement multipliers must be >= 1")
	}
	if c.MinReplacementIncreasePercent < 0 {
		return fmt.Errorf("min replacement increase percent must be >= 0, got %f", c.MinReplacementIncreasePercent)
	}
	if c.MaxReplacementCostPercent <= 0 {
		return fmt.Errorf("max replacement cost percent must be positive, got %f", c.MaxReplacementCostPercent)
	}
	if c.MaxReplacements < 0 {
		return fmt.Errorf("max replacements must be >= 0, got %d", c.MaxReplacements)
	}
	if c.PaperInitialDelay <= 0 || c.PaperMaxDelay < c.PaperInitialDelay {
		return fmt.Errorf("paper delays must be positive and max >= initial")
	}
	return nil
}

// initialDelay returns the backoff floor for the given mode.
func (c RetryConfig) initialDelay(simulated bool) time.Duration {
	if simulated {
		return c.PaperInitialDelay
	}
	return c.InitialDelay
}

// maxDelay returns the backoff cap for the given mode.
func (c RetryConfig) maxDelay(simulated bool) time.Duration {
	if simulated {
		return c.PaperMaxDelay
	}
	return c.MaxDelay
}
