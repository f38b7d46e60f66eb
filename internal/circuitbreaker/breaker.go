// Package circuitbreaker provides a circuit breaker for protecting calls to
// volatile downstream services.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without invoking the
// wrapped operation. Callers should treat it as "try later", not as a
// functional failure of the operation itself.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
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
	// FailureThreshold is the number of consecutive non-excluded failures
	// that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a single
	// trial call is permitted
	RecoveryTimeout time.Duration
	// IsExcluded reports whether an error bypasses failure counting
	// entirely. Excluded errors are re-raised untouched with no state
	// change. Nil means no errors are excluded.
	IsExcluded func(error) bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("FailureThreshold must be positive, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("RecoveryTimeout must be positive, got %v", c.RecoveryTimeout)
	}
	return nil
}

// ExcludeErrors builds an exclusion matcher from sentinel errors, matched
// with errors.Is.
func ExcludeErrors(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// CircuitBreaker implements the circuit breaker pattern. The mutex guards
// only state reads and writes; it is never held while the wrapped operation
// runs, so a slow call does not block other callers from observing circuit
// state.
type CircuitBreaker struct {
	name   string
	config Config

	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	mu sync.RWMutex

	onStateChange func(name string, from, to State)
}

// New creates a new circuit breaker with the given name and configuration
func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Name returns the breaker's registry identity
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange sets a callback invoked whenever the breaker changes state
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn if the circuit allows it. When the circuit is open,
// ErrCircuitOpen is returned and fn is not invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		if cb.config.IsExcluded != nil && cb.config.IsExcluded(err) {
			cb.onExcluded()
			return err
		}
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return nil
}

// allow decides whether a call may proceed, transitioning OPEN to HALF_OPEN
// once the recovery timeout has elapsed. In HALF_OPEN exactly one trial call
// is permitted.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.trialInFlight = true
			return nil
		}
		return fmt.Errorf("circuit breaker %q: %w", cb.name, ErrCircuitOpen)
	case StateHalfOpen:
		if cb.trialInFlight {
			return fmt.Errorf("circuit breaker %q: %w", cb.name, ErrCircuitOpen)
		}
		cb.trialInFlight = true
		return nil
	}

	return fmt.Errorf("circuit breaker %q: %w", cb.name, ErrCircuitOpen)
}

// onSuccess records a successful call. The failure count resets only when a
// HALF_OPEN trial succeeds, not on every success in CLOSED.
func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.failures = 0
		cb.trialInFlight = false
	}
}

// onFailure records a non-excluded failure
func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.trialInFlight = false
	}
}

// onExcluded releases a HALF_OPEN trial slot without counting the error or
// changing state
func (cb *CircuitBreaker) onExcluded() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// setState changes the state and fires the state change hook. Callers must
// hold cb.mu.
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		// Fire the hook without holding the lock to avoid deadlock
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats describes a breaker's observable state
type Stats struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// Stats returns the current statistics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := Stats{
		Name:     cb.name,
		State:    cb.state.String(),
		Failures: cb.failures,
	}

	if !cb.lastFailure.IsZero() {
		lastFailure := cb.lastFailure
		stats.LastFailure = &lastFailure
	}

	return stats
}
