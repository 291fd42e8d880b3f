package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func fastConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0

	result := Retry(context.Background(), nil, func() error {
		attempts++
		return nil
	})

	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("expected 1 attempt, got %d (%d calls)", result.Attempts, attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	failUntil := 3

	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < failUntil {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})

	if result.Attempts != failUntil {
		t.Errorf("expected %d attempts, got %d", failUntil, result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	boom := errors.New("rpc unavailable")

	result := Retry(context.Background(), fastConfig(2), func() error { return boom })

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) || !errors.Is(result.LastError, boom) {
		t.Errorf("expected joined max-retries error, got %v", result.LastError)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(-1)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	attempts := 0
	result := Retry(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", result.LastError)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		return MarkNonRetryable(errors.New("execution reverted"))
	})

	if attempts != 1 {
		t.Errorf("expected no retries for non-retryable error, got %d attempts", attempts)
	}
	if !IsNonRetryable(result.LastError) {
		t.Errorf("expected non-retryable error, got %v", result.LastError)
	}
}

func TestRetryIfTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("503"), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{MarkNonRetryable(errors.New("bad abi")), false},
	}
	for _, tt := range tests {
		if got := RetryIfTransient(tt.err); got != tt.want {
			t.Errorf("RetryIfTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryWithValue_Success(t *testing.T) {
	attempts := 0
	val, result := RetryWithValue(context.Background(), fastConfig(3), func() (uint64, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("timeout")
		}
		return 8453, nil
	})

	if val != 8453 {
		t.Errorf("expected chain id 8453, got %d", val)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestRetryWithValue_Failure(t *testing.T) {
	val, result := RetryWithValue(context.Background(), fastConfig(1), func() (string, error) {
		return "partial", errors.New("fail")
	})

	if val != "" {
		t.Errorf("expected zero value on failure, got %q", val)
	}
	if result.LastError == nil {
		t.Error("expected error")
	}
}

func TestRetry_UsesInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := &RetryConfig{MaxRetries: 1, BaseDelay: time.Minute, Multiplier: 2, Clock: clock}

	attempts := 0
	done := make(chan *RetryResult, 1)
	go func() {
		done <- Retry(context.Background(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return errors.New("first call fails")
			}
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("retry never waited on the clock: %v", err)
	}
	clock.Advance(time.Minute)

	select {
	case res := <-done:
		if res.Attempts != 2 || res.LastError != nil {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.Duration != time.Minute {
			t.Errorf("expected duration measured on the fake clock, got %v", res.Duration)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not finish after advancing the clock")
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := calculateDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestCalculateDelay_MaxDelay(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 10}
	if got := calculateDelay(cfg, 4); got != 5*time.Second {
		t.Errorf("expected delay clamped to 5s, got %v", got)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}
}

func TestChainRetryConfig(t *testing.T) {
	cfg := ChainRetryConfig()
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.MaxRetries)
	}
	if cfg.RetryIf == nil || cfg.RetryIf(context.Canceled) {
		t.Error("expected chain retries to stop on cancellation")
	}
}
