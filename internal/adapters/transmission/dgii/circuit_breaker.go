package dgii

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	// ErrBreakerOpen is returned without calling the endpoint while the breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	// errEndpointDown marks failures that say the endpoint is unreachable:
	// transport errors and 5xx. Rejections of a document do not count.
	errEndpointDown = errors.New("endpoint unavailable")
)

// CircuitBreaker short-circuits calls while the authority is known to be down.
// It never retries.
type CircuitBreaker struct {
	maxFailures      int
	failureThreshold float64
	cooldown         time.Duration
	successThreshold int
	now              func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	totalRequests   int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures endpoint
// failures, or once the failure rate reaches failureThreshold over at least
// maxFailures calls.
func NewCircuitBreaker(maxFailures int, failureThreshold float64, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = 0.5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:      maxFailures,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		successThreshold: 2,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Execute runs fn unless the breaker is open. Only errors marked as endpoint
// failures move the breaker toward open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	cb.record(err == nil, errors.Is(err, errEndpointDown))
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return true
	}
	if cb.now().Sub(cb.lastStateChange) < cb.cooldown {
		return false
	}
	cb.transition(BreakerHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(success, endpointDown bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !success && !endpointDown {
		// The endpoint answered; treat as reachable.
		success = true
	}
	cb.totalRequests++

	if success {
		cb.successCount++
		switch cb.state {
		case BreakerHalfOpen:
			if cb.successCount >= cb.successThreshold {
				cb.transition(BreakerClosed)
			}
		case BreakerClosed:
			if cb.successCount > cb.failureCount {
				cb.failureCount = 0
			}
		}
		return
	}

	cb.failureCount++
	if cb.state == BreakerHalfOpen {
		cb.transition(BreakerOpen)
		return
	}
	rate := float64(cb.failureCount) / float64(cb.totalRequests)
	if cb.failureCount >= cb.maxFailures || (cb.totalRequests >= cb.maxFailures && rate >= cb.failureThreshold) {
		cb.transition(BreakerOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.successCount = 0
	if to == BreakerClosed {
		cb.failureCount = 0
		cb.totalRequests = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerClosed)
}
