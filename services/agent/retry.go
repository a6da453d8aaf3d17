package agent

import (
	"context"
	"time"
)

// RetryConfig configures retries of the reasoning call with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after every retry.
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// RetryableFunc is called once per attempt, starting at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry runs fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Every failure comes back as *FatalServiceError.
func retry(ctx context.Context, config RetryConfig, sleep sleepFunc, fn RetryableFunc) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 2.0
	}

	backoff := config.InitialBackoff
	attempt := 0
	var lastErr error

	for attempt < config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return &FatalServiceError{Attempts: attempt, Err: err}
		}

		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return &FatalServiceError{Attempts: attempt, Err: err}
		}

		// Don't wait after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		if err := sleep(ctx, backoff); err != nil {
			return &FatalServiceError{Attempts: attempt, Err: err}
		}

		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	return &FatalServiceError{Attempts: attempt, Err: lastErr}
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if max > 0 && next > max {
		return max
	}
	return next
}
