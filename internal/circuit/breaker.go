package circuit

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
)

const component = "circuit"

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected without reaching the dependency
	StateOpen
	// StateHalfOpen - a limited number of trial requests are let through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
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

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed to pass through when half-open
	MaxRequests uint32

	// Period of the closed state after which counts are cleared
	Interval time.Duration

	// Period of the open state after which the breaker goes half-open
	Timeout time.Duration

	// ReadyToTrip decides, after a failure in the closed state, whether to open
	ReadyToTrip func(counts Counts) bool

	// OnStateChange is called on every transition
	OnStateChange func(name string, from State, to State)

	// IsSuccessful decides whether an error counts as a failure
	IsSuccessful func(err error) bool
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// CircuitBreaker stops calling a failing dependency for a cool-down period
type CircuitBreaker struct {
	name   string
	config Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = ConsecutiveFailures(5)
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.Interval),
	}
}

// FromConfig builds a breaker from file configuration, logging transitions.
func FromConfig(name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := uint32(5)
	if cfg.FailureThreshold > 0 {
		threshold = uint32(cfg.FailureThreshold)
	}
	return NewCircuitBreaker(name, Config{
		Timeout:     cfg.Timeout,
		ReadyToTrip: ConsecutiveFailures(threshold),
		OnStateChange: func(name string, from, to State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// ConsecutiveFailures trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// defaultIsSuccessful treats caller cancellation as neutral
func defaultIsSuccessful(err error) bool {
	return err == nil || errors.IsCode(err, errors.ErrCodeOperationCanceled)
}

// Execute runs fn if the breaker allows it. A rejected call returns a
// RESOURCE_EXHAUSTED error without invoking fn. The outcome of a call that
// outlives a state change is not counted against the new state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.afterRequest(generation, err)
	return err
}

// IsRejection reports whether err came from an open or saturated breaker.
func IsRejection(err error) bool {
	var ae *errors.AcceleratorError
	return stderrors.As(err, &ae) && ae.Code == errors.ErrCodeResourceExhausted && ae.Component == component
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, expiry := cb.currentState(now)

	switch {
	case state == StateOpen:
		return 0, errors.NewError(errors.ErrCodeResourceExhausted, "circuit breaker is open").
			WithComponent(component).
			WithDetail("breaker", cb.name).
			WithDetail("retry_after", time.Until(expiry).String())
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return 0, errors.NewError(errors.ErrCodeResourceExhausted, "too many requests in half-open state").
			WithComponent(component).
			WithDetail("breaker", cb.name)
	}

	cb.counts.onRequest()
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)
	if generation != cb.generation {
		return
	}

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()

	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()

	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.expiry
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}

	cb.state = state
	cb.newGeneration(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// newGeneration clears the counts and restarts the window for the current
// state. Calls admitted under an older generation are ignored on return.
func (cb *CircuitBreaker) newGeneration(now time.Time) {
	cb.generation++
	cb.counts.clear()

	switch cb.state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

// Reset returns the breaker to closed with cleared counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if cb.state == StateClosed {
		cb.newGeneration(now)
		return
	}
	cb.setState(StateClosed, now)
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
