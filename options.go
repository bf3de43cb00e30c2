package txlifecycle

import "time"

// Option configures a Manager during construction.
type Option func(*Manager)

// WithChainReader registers the read-only node view for a chain. Submissions
// targeting a chain without a reader are rejected, since confirmed-ness and
// stuck-ness cannot be observed without one.
func WithChainReader(chainID uint64, reader ChainReader) Option {
	return func(m *Manager) {
		if reader != nil {
			m.readers.Store(chainID, reader)
		}
	}
}

// WithTradeRecorder sets the audit sink for completed trades. Without one,
// completed trades are only logged.
func WithTradeRecorder(recorder TradeRecorder) Option {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

// WithRetryConfig replaces the default retry, gas escalation, monitor and
// breaker tuning wholesale. The config is validated during New.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithMaxRetries overrides only the default retry budget.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		m.cfg.MaxRetries = n
	}
}

// WithGasCeiling overrides the gas price ceiling in gwei. Escalation never
// prices an attempt above the ceiling.
func WithGasCeiling(gwei float64) Option {
	return func(m *Manager) {
		m.cfg.GasCeilingGwei = gwei
	}
}

// WithBreakerThresholds overrides the shared circuit breaker tuning for all
// category and account breakers.
func WithBreakerThresholds(failureThreshold int, cooldown time.Duration) Option {
	return func(m *Manager) {
		m.cfg.BreakerFailureThreshold = failureThreshold
		m.cfg.BreakerCooldown = cooldown
	}
}

// WithMempoolCheckInterval overrides how often each per-chain sweep runs.
func WithMempoolCheckInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.cfg.MempoolCheckInterval = interval
	}
}
