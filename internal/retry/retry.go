// Package retry runs operations with exponential backoff.
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond},
//	    func() error { return dial() },
//	    isTransient)
//
// The n-th retry waits InitialBackoff * 2^(n-1), capped at MaxBackoff, plus
// a jitter share that grows with the attempt number. Cancelling ctx ends the
// loop during a backoff wait.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior. MaxRetries and InitialBackoff must be
// positive.
type Config struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration
	// Jitter in [0,1] adds backoff*Jitter*attempt/MaxRetries to each wait.
	Jitter float64
}

// ShouldRetryFunc decides whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// permanentError stops the retry loop regardless of ShouldRetryFunc.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg, attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

func backoff(cfg Config, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		d += time.Duration(float64(d) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return d
}
