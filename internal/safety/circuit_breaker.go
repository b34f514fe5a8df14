package safety

import (
	"fmt"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold uint32        `json:"success_threshold" yaml:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`                     // open period before a trial
}

// CircuitBreaker stops dispatch after repeated terminal failures and lets a
// trial through once Timeout has passed
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	lastFailure   time.Time
	nextAttempt   time.Time
	mutex         sync.Mutex
	name          string
	now           func() time.Time
	onStateChange func(from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		name:   name,
		now:    time.Now,
	}
}

// SetStateChangeCallback sets a callback run after every state transition.
// It is called without the breaker lock held.
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// SetClock replaces the time source, for tests
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string { return cb.name }

// Call executes fn with circuit breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return boterrors.NewDispatchError("safety", "circuit_breaker",
			fmt.Sprintf("circuit breaker %s is open", cb.name))
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether work may proceed. An open breaker whose timeout has
// passed moves to half-open and allows a trial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	var from, to CircuitBreakerState
	changed := false
	allowed := true

	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttempt) {
			allowed = false
		} else {
			from, to, changed = cb.transition(StateHalfOpen)
			cb.successes = 0
		}
	}
	callback := cb.onStateChange
	cb.mutex.Unlock()

	if changed && callback != nil {
		callback(from, to)
	}
	return allowed
}

// RecordSuccess records a successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	var from, to CircuitBreakerState
	changed := false

	cb.failures = 0
	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			from, to, changed = cb.toClosed()
		}
	case StateOpen:
		from, to, changed = cb.toClosed()
	}
	callback := cb.onStateChange
	cb.mutex.Unlock()

	if changed && callback != nil {
		callback(from, to)
	}
}

// RecordFailure records a failed execution
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	var from, to CircuitBreakerState
	changed := false

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			from, to, changed = cb.toOpen()
		}
	case StateHalfOpen:
		from, to, changed = cb.toOpen()
	case StateOpen:
		cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	}
	callback := cb.onStateChange
	cb.mutex.Unlock()

	if changed && callback != nil {
		callback(from, to)
	}
}

func (cb *CircuitBreaker) toClosed() (CircuitBreakerState, CircuitBreakerState, bool) {
	cb.failures = 0
	cb.successes = 0
	return cb.transition(StateClosed)
}

func (cb *CircuitBreaker) toOpen() (CircuitBreakerState, CircuitBreakerState, bool) {
	cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	cb.successes = 0
	return cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) (CircuitBreakerState, CircuitBreakerState, bool) {
	from := cb.state
	cb.state = to
	return from, to, from != to
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats returns statistics about the circuit breaker
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return CircuitBreakerStats{
		Name:        cb.name,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    uint32    `json:"failures"`
	Successes   uint32    `json:"successes"`
	LastFailure time.Time `json:"last_failure"`
	NextAttempt time.Time `json:"next_attempt"`
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	from, to, changed := cb.toClosed()
	callback := cb.onStateChange
	cb.mutex.Unlock()

	if changed && callback != nil {
		callback(from, to)
	}
}

// ForceOpen forces the circuit breaker to open state
func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	from, to, changed := cb.toOpen()
	callback := cb.onStateChange
	cb.mutex.Unlock()

	if changed && callback != nil {
		callback(from, to)
	}
}
