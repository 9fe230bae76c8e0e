package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior for transient provider failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Backoff configures delay between attempts.
	Backoff BackoffConfig `json:"backoff" yaml:"backoff"`
}

// BackoffConfig configures retry delays.
type BackoffConfig struct {
	// Initial delay before the first retry.
	Initial time.Duration `json:"initial" yaml:"initial"`

	// Multiplier for exponential growth (default 2.0).
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// Max caps the delay between retries. Zero means uncapped.
	Max time.Duration `json:"max" yaml:"max"`

	// Jitter adds randomness as a fraction of the delay (0.0-1.0).
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy matches the behavior expected of AI operations:
// a few retries with exponential backoff and mild jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff: BackoffConfig{
			Initial:    500 * time.Millisecond,
			Multiplier: 2.0,
			Max:        10 * time.Second,
			Jitter:     0.2,
		},
	}
}

// WithRetry runs execute, retrying only errors the provider classified as
// retryable. Exhausting retries surfaces the final error unchanged.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, execute func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Backoff.delay(attempt - 1)
			slog.Debug("retrying provider call",
				"attempt", attempt+1,
				"max_attempts", policy.MaxRetries+1,
				"delay_ms", delay.Milliseconds(),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := execute(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			slog.Debug("provider error not retryable", "error", err.Error())
			return zero, err
		}
		slog.Warn("provider call failed",
			"attempt", attempt+1,
			"max_attempts", policy.MaxRetries+1,
			"error", err.Error(),
		)
	}

	return zero, lastErr
}

// delay computes the backoff before retry number attempt (0-based).
func (b BackoffConfig) delay(attempt int) time.Duration {
	if b.Initial == 0 {
		return 0
	}

	multiplier := b.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
	}

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
