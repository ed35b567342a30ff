package embedding

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker gates calls to one provider. Consecutive failures trip it
// open; after the cool-down a single trial request is let through, and its
// outcome decides between closing again and restarting the cool-down.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	coolDown         time.Duration

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	lastFailureTime     time.Time

	// now is swappable for transition-timing tests
	now func() time.Time
}

// BreakerStatus is the externally visible state, served by /health
type BreakerStatus struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	LastFailureTime     *time.Time   `json:"last_failure_time,omitempty"`
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold int, coolDown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Allow reports whether a request may proceed. In the half-open state exactly
// one trial call is admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful provider call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.consecutiveFailures = 0
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.consecutiveFailures = 0
		cb.trialInFlight = false
	}
}

// RecordFailure reports a failed provider call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.open()
		}
	case BreakerHalfOpen:
		// Failed trial restarts the cool-down
		cb.open()
	}
}

// State returns the current state. Like Allow, it applies the elapsed
// cool-down first, so readers (the router above all) see half-open rather
// than a stale open and keep routing trial traffic toward recovery.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Status returns the current status for health reporting
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	status := BreakerStatus{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if !cb.openedAt.IsZero() {
		t := cb.openedAt
		status.OpenedAt = &t
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		status.LastFailureTime = &t
	}
	return status
}

// refresh applies the open-to-half-open transition once the cool-down has
// elapsed. The trial slot stays free until Allow claims it. Caller holds the
// lock.
func (cb *CircuitBreaker) refresh() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.coolDown {
		cb.state = BreakerHalfOpen
		cb.trialInFlight = false
	}
}

// open transitions to the open state. Caller holds the lock.
func (cb *CircuitBreaker) open() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.trialInFlight = false
	cb.consecutiveFailures = cb.failureThreshold
}
