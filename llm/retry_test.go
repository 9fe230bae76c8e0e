package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: retries,
		Backoff:    BackoffConfig{Initial: time.Microsecond, Multiplier: 2},
	}
}

func TestWithRetryRetriesRetryableErrors(t *testing.T) {
	attempts := 0
	result, err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &ProviderError{Provider: "test", Status: 429, Message: "slow down", Retryable: true}
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("WithRetry() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	attempts := 0
	fatal := &ProviderError{Provider: "test", Status: 401, Message: "bad key"}
	_, err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		attempts++
		return 0, fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want the fatal error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable error", attempts)
	}
}

func TestWithRetryExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	_, err := WithRetry(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		attempts++
		return 0, &ProviderError{Provider: "test", Status: 503, Retryable: true}
	})

	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Status != 503 {
		t.Errorf("error = %v, want the last provider error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxRetries: 5, Backoff: BackoffConfig{Initial: time.Hour}}
	_, err := WithRetry(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, &ProviderError{Retryable: true}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := BackoffConfig{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 300 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond}, // capped
		{5, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&ProviderError{Status: 500, Retryable: true}) {
		t.Error("retryable provider error reported as fatal")
	}
	if IsRetryable(&ProviderError{Status: 400}) {
		t.Error("fatal provider error reported as retryable")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("plain error reported as retryable")
	}
}
