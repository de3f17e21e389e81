package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"crisis-monitor/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Consecutive failures before opening the circuit
	FailureThreshold int64 `yaml:"failure_threshold"`

	// Consecutive successes in half-open state before closing
	SuccessThreshold int64 `yaml:"success_threshold"`

	// Time the circuit stays open before a trial request
	Timeout time.Duration `yaml:"timeout"`

	// Upper bound for the open timeout when backing off
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// Deadline applied to calls whose context has none
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Double the open timeout for every failure past the threshold
	ExponentialBackoff bool `yaml:"exponential_backoff"`
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		MaxTimeout:         5 * time.Minute,
		RequestTimeout:     5 * time.Second,
		ExponentialBackoff: true,
	}
}

// Statistics is a snapshot of circuit breaker counters
type Statistics struct {
	State                string    `json:"state"`
	TotalRequests        int64     `json:"total_requests"`
	SuccessfulRequests   int64     `json:"successful_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	RejectedRequests     int64     `json:"rejected_requests"`
	ConsecutiveFailures  int64     `json:"consecutive_failures"`
	ConsecutiveSuccesses int64     `json:"consecutive_successes"`
	StateTransitions     int64     `json:"state_transitions"`
	LastFailureTime      time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime      time.Time `json:"last_success_time,omitempty"`
}

// CircuitBreaker stops calling a failing dependency for a while so callers
// fail fast instead of waiting on it.
type CircuitBreaker struct {
	name        string
	logger      *logrus.Entry
	config      Config
	now         func() time.Time
	isFailure   func(error) bool
	mutex       sync.Mutex
	state       State
	nextAttempt time.Time
	stats       Statistics
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config Config, logger *logrus.Logger) *CircuitBreaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxTimeout < config.Timeout {
		config.MaxTimeout = config.Timeout
	}

	metrics.SetCircuitBreakerState(name, int(StateClosed))
	return &CircuitBreaker{
		name:      name,
		logger:    logger.WithField("circuit_breaker", name),
		config:    config,
		now:       time.Now,
		isFailure: func(err error) bool { return err != nil },
		state:     StateClosed,
	}
}

// SetFailurePredicate overrides which errors count against the circuit.
// Errors that are not failures are still returned to the caller.
func (cb *CircuitBreaker) SetFailurePredicate(isFailure func(error) bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.isFailure = isFailure
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return NewCircuitBreakerOpenError(cb.name, StateOpen)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			cb.stats.RejectedRequests++
			return false
		}
		cb.setState(StateHalfOpen)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	cb.stats.TotalRequests++

	if err != nil && cb.isFailure(err) {
		cb.stats.FailedRequests++
		cb.stats.ConsecutiveFailures++
		cb.stats.ConsecutiveSuccesses = 0
		cb.stats.LastFailureTime = now

		if cb.state == StateHalfOpen || cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
		cb.logger.WithError(err).WithFields(logrus.Fields{
			"failures": cb.stats.ConsecutiveFailures,
			"state":    cb.state.String(),
		}).Debug("Circuit breaker recorded failure")
		return
	}

	cb.stats.SuccessfulRequests++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.ConsecutiveSuccesses++
	cb.stats.LastSuccessTime = now

	if cb.state == StateHalfOpen && cb.stats.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateOpen:
		timeout := cb.config.Timeout
		if cb.config.ExponentialBackoff {
			over := cb.stats.ConsecutiveFailures - cb.config.FailureThreshold
			for i := int64(0); i < over && timeout < cb.config.MaxTimeout; i++ {
				timeout *= 2
			}
			if timeout > cb.config.MaxTimeout {
				timeout = cb.config.MaxTimeout
			}
		}
		cb.nextAttempt = cb.now().Add(timeout)
	case StateHalfOpen:
		cb.stats.ConsecutiveSuccesses = 0
	case StateClosed:
		cb.nextAttempt = time.Time{}
	}

	cb.stats.StateTransitions++
	metrics.SetCircuitBreakerState(cb.name, int(newState))

	cb.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
		"failures":   cb.stats.ConsecutiveFailures,
	}).Info("Circuit breaker state changed")
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStatistics returns a snapshot of the circuit breaker counters
func (cb *CircuitBreaker) GetStatistics() Statistics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	stats := cb.stats
	stats.State = cb.state.String()
	return stats
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.setState(StateClosed)
	cb.stats = Statistics{}
	cb.logger.Info("Circuit breaker reset")
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}
