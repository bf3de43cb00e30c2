// Package circuitbreaker provides the failure-containment gate used by the
// transaction lifecycle manager. Independent breaker instances exist per
// failure category and per account so one failing collaborator never blocks
// submissions that could proceed without it.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, submissions pass through
	StateOpen                  // Circuit is open, submissions fail fast
	StateHalfOpen              // One trial submission allowed after cooldown
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a
	// half-open trial
	Cooldown time.Duration

	// OnStateChange is called when the circuit breaker state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern with a single-trial
// half-open state: after the cooldown exactly one submission is let through,
// and its outcome alone decides whether the circuit closes or reopens.
type Breaker struct {
	mu sync.Mutex

	config Config
	state  State

	consecutiveFailures int
	openedAt            time.Time

	// trialInFlight guards the half-open state so concurrent submissions
	// cannot all claim the single trial slot.
	trialInFlight bool
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// State returns the current state, transitioning Open to Half-Open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// refresh applies the time-based Open -> Half-Open transition.
// Must be called with the lock held.
func (b *Breaker) refresh() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.Cooldown {
		b.setState(StateHalfOpen)
		b.trialInFlight = false
	}
}

// Allow reports whether a submission may proceed. In half-open state only
// the first caller gets the trial slot; everyone else is rejected until the
// trial's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

// ReleaseTrial returns an unused half-open trial slot claimed by Allow, for
// callers that claimed the slot but then decided not to submit at all. A
// released slot becomes available to the next Allow caller.
func (b *Breaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordSuccess records a successful submission. A successful half-open
// trial closes the circuit and resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.setState(StateClosed)
	}
}

// RecordFailure records a failed submission. Reaching the threshold opens
// the circuit; a failed half-open trial reopens it and restarts the
// cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = time.Now()
		b.setState(StateOpen)
	}
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.setState(StateClosed)
}

// setState changes the state and calls the callback if configured.
// Must be called with the lock held.
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		// Call in a goroutine to avoid blocking under the lock
		go b.config.OnStateChange(oldState, newState)
	}
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Stats returns the current statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}
