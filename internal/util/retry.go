package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxRetries int
	// BaseDelay is the initial delay between retries
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases (default: 2.0)
	Multiplier float64
	// Jitter adds randomness to delays (0.0 - 1.0)
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. Nil retries
	// everything not marked with MarkNonRetryable.
	RetryIf func(error) bool
	// Clock drives the waits between attempts. Nil uses the real clock.
	Clock clockwork.Clock
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// ChainRetryConfig is used for RPC dials and read-only contract calls.
// Token transfers are never retried.
func ChainRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
		RetryIf:    RetryIfTransient,
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // Last error encountered
	Duration  time.Duration // Total duration of all attempts
}

// ErrMaxRetriesExceeded is returned when max retries is exceeded
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is returned when context is canceled during retry
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry executes a function with exponential backoff retry
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, res := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return res
}

// RetryWithValue executes a function that returns a value with exponential backoff retry
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool { return !IsNonRetryable(err) }
	}

	var zero T
	res := &RetryResult{}
	start := clock.Now()

	for {
		res.Attempts++

		val, err := fn()
		if err == nil {
			res.LastError = nil
			res.Duration = clock.Since(start)
			return val, res
		}
		res.LastError = err

		if !retryIf(err) {
			res.Duration = clock.Since(start)
			return zero, res
		}

		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			res.Duration = clock.Since(start)
			return zero, res
		}

		select {
		case <-ctx.Done():
			res.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			res.Duration = clock.Since(start)
			return zero, res
		case <-clock.After(calculateDelay(config, res.Attempts)):
		}
	}
}

// calculateDelay calculates the delay for a given attempt number
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	// delay = baseDelay * multiplier^(attempt-1)
	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// NonRetryableError wraps an error and marks it as non-retryable
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// MarkNonRetryable marks an error as non-retryable
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// RetryIfTransient retries everything except cancellation and errors marked
// non-retryable.
func RetryIfTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsNonRetryable(err)
}
