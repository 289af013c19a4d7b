package activitylog

import (
	"errors"
	"sync"
	"time"

	"github.com/abdhe/keyrelay/pkg/metrics"
)

// circuitState is the state of a circuitBreaker.
type circuitState int

const (
	stateClosed   circuitState = iota // Normal — calls pass through
	stateOpen                         // Tripped — calls are rejected
	stateHalfOpen                     // Probing — calls pass; the next result closes or re-opens
)

// errCircuitOpen is returned when the breaker is open and cooldown hasn't
// elapsed.
var errCircuitOpen = errors.New("activitylog: redis circuit breaker is open")

// circuitBreaker trips open once consecutive Redis failures reach a
// threshold, and probes again after a cooldown, so a down Redis instance
// doesn't add a network round trip's worth of latency to every request.
type circuitBreaker struct {
	mu sync.Mutex

	state               circuitState
	failureThreshold    int
	consecutiveFailures int
	cooldown            time.Duration
	lastFailure         time.Time
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	metrics.ActivityLogCircuitState.Set(float64(stateClosed))
	return &circuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// execute runs fn through the breaker. Returns errCircuitOpen without
// calling fn when the circuit is open and still cooling down.
func (cb *circuitBreaker) execute(fn func() error) error {
	if !cb.allowRequest() {
		return errCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.state = stateHalfOpen
			metrics.ActivityLogCircuitState.Set(float64(stateHalfOpen))
			return true
		}
		return false
	case stateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.consecutiveFailures++
	cb.lastFailure = time.Now()
	if cb.consecutiveFailures >= cb.failureThreshold && cb.state != stateOpen {
		cb.state = stateOpen
		metrics.ActivityLogCircuitState.Set(float64(stateOpen))
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.consecutiveFailures = 0
	if cb.state == stateHalfOpen {
		cb.state = stateClosed
		metrics.ActivityLogCircuitState.Set(float64(stateClosed))
	}
}
