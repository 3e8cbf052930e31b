// Package retry runs an operation a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/objectfs/accelerator/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay grows after each retry.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds up to ±20% randomness to each delay.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// ShouldRetry classifies failures. Defaults to errors.IsRetryable.
	ShouldRetry func(err error) bool `yaml:"-" json:"-"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// Retryer handles retry logic with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero values with defaults.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = errors.IsRetryable
	}
	return &Retryer{config: config}
}

// DoWithContext executes fn until it succeeds, returns a failure that is not
// retryable, the attempt budget runs out, or ctx is done. A non-retryable
// failure is returned as is; an exhausted budget is reported as
// RETRY_EXHAUSTED wrapping the last failure.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.FromContext(err, "retry").WithCause(firstNonNil(lastErr, err))
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.ShouldRetry(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.FromContext(ctx.Err(), "retry").WithCause(lastErr)
		case <-timer.C:
		}
	}

	return errors.Newf(errors.ErrCodeRetryExhausted, "max retry attempts (%d) exceeded", r.config.MaxAttempts).
		WithCause(lastErr).
		WithRetryable(false)
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
