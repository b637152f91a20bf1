// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rtsoft/up2date/pkg/logging"
)

// ErrPermanent marks an error that must not be retried. Wrap it with Permanent.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() []error {
	return []error{p.err, ErrPermanent}
}

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultConfig is used for package downloads.
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		Multiplier:      2,
	}
}

// Retry retries a given function with exponential backoff until it succeeds,
// returns a permanent error, or ctx is done.
func Retry(ctx context.Context, config RetryConfig, action func(ctx context.Context) error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	interval := config.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		err := action(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) {
			logging.Warn("Non-retryable error encountered", "attempt", attempt, "error", err)
			return err
		}

		if attempt == config.MaxRetries {
			logging.Warn("Attempt failed, no more retries", "attempt", attempt, "max_attempts", config.MaxRetries, "error", err)
			break
		}
		logging.Warn("Attempt failed, retrying", "attempt", attempt, "max_attempts", config.MaxRetries, "retry_delay", interval.String(), "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * config.Multiplier)
	}

	return fmt.Errorf("action failed after %d attempts: %w", config.MaxRetries, lastErr)
}
