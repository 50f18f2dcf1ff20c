// Package retry provides retry with exponential backoff and jitter for
// remote calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes each delay into [0.5, 1.0) of its nominal value.
	Jitter bool
}

// Predefined profiles for the dependencies this service talks to.

// MCP is the profile for capability-server tool calls.
func MCP() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 2.0, Jitter: true}
}

// Database is the profile for relational-store operations.
func Database() Config {
	return Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Factor: 2.0, Jitter: true}
}

// ExternalAPI is the profile for third-party market-data APIs.
func ExternalAPI() Config {
	return Config{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Factor: 2.0, Jitter: true}
}

// Quick is the profile for cheap best-effort calls.
func Quick() Config {
	return Config{MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0, Jitter: false}
}

// ExhaustedError reports that all attempts failed.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Last is the error from the final attempt.
	Last error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to stop further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Do executes op until it succeeds, a permanent error occurs, the context is
// cancelled, or attempts run out. On exhaustion it returns *ExhaustedError
// wrapping the last failure.
func Do(ctx context.Context, config Config, op func(ctx context.Context) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Factor <= 0 {
		config.Factor = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			var permanent *PermanentError
			errors.As(err, &permanent)
			return permanent.Err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Delay(attempt, config)):
		}
	}

	return &ExhaustedError{Attempts: config.MaxAttempts, Last: lastErr}
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func(ctx context.Context) (T, error)) (T, error) {
	var value T
	err := Do(ctx, config, func(ctx context.Context) error {
		var opErr error
		value, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// Delay computes the backoff for the given 1-based attempt:
// min(initial * factor^(attempt-1), max), scaled into [0.5, 1.0) of the
// nominal value when jitter is enabled.
func Delay(attempt int, config Config) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(config.Factor, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		delay *= 0.5 + rand.Float64()*0.5 // #nosec G404 -- jitter does not require cryptographic randomness
	}
	return time.Duration(delay)
}
