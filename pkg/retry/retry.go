/**
 * @description
 * This package provides a generic bounded-retry-with-backoff executor used for every
 * call to an external generation provider. It knows nothing about credits, jobs, or
 * assets; it is a pure execution strategy for unreliable operations.
 *
 * @notes
 * - Backoff is exponential with a delay cap and optional uniform jitter (up to 50%
 *   of the computed delay) to avoid synchronized retry storms against a provider
 *   that is already struggling.
 * - Non-retryable errors abort immediately without consuming the retry budget.
 *   On exhaustion the last error is returned unchanged so callers can still
 *   inspect its identity with errors.Is/As.
 */

package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// HTTPStatusError is implemented by errors that carry an HTTP-like status code
// (e.g. provider client errors). The default retry classifier uses it.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// Operation is one attempt of the unreliable work.
type Operation func(ctx context.Context) error

// Options tunes the executor. Zero-value fields fall back to the defaults
// applied by withDefaults.
type Options struct {
	// MaxRetries is the number of re-attempts after the first try, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Jitter adds a uniform random delay of up to 50% on top of each backoff.
	Jitter bool
	// IsRetryable classifies errors; nil means DefaultIsRetryable.
	IsRetryable func(error) bool
	// OnRetry is called before each backoff wait, purely for observability.
	// It must not affect control flow.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func (o Options) withDefaults() Options {
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = 2
	}
	if o.IsRetryable == nil {
		o.IsRetryable = DefaultIsRetryable
	}
	return o
}

// retryableStatuses are the HTTP-like status codes treated as transient.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// transientPatterns are substrings of error messages known to indicate
// transient provider failures.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"rate limit",
	"too many requests",
	"service unavailable",
	"temporarily unavailable",
	"unexpected eof",
}

// DefaultIsRetryable reports whether an error looks transient: a retryable
// HTTP status, a context deadline, or a known transient message pattern.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatuses[statusErr.HTTPStatus()]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// Do runs op until it succeeds, a non-retryable error occurs, the retry budget
// is exhausted, or ctx is cancelled. The returned error is always the last
// error produced by op (or ctx.Err() when cancelled mid-backoff).
func Do(ctx context.Context, op Operation, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !opts.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxRetries {
			break
		}

		delay := backoffDelay(opts, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(lastErr, attempt+1, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoffDelay computes min(initial * multiplier^attempt, max) plus jitter.
func backoffDelay(opts Options, attempt int) time.Duration {
	delay := float64(opts.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= opts.BackoffMultiplier
		if delay >= float64(opts.MaxDelay) {
			delay = float64(opts.MaxDelay)
			break
		}
	}
	if delay > float64(opts.MaxDelay) {
		delay = float64(opts.MaxDelay)
	}
	if opts.Jitter {
		delay += rand.Float64() * 0.5 * delay
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
