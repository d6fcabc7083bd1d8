// Package retry implements the shared retry policy used by the
// classification gateway: bounded attempts, exponential backoff between
// attempts, and a per-attempt timeout enforced through context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the final attempt's error once the attempt budget is
// spent. Use errors.Is to detect it.
var ErrExhausted = errors.New("retry attempts exhausted")

// BackoffFunc returns the delay to wait after the given 0-based failed
// attempt, before the next one starts.
type BackoffFunc func(attempt int) time.Duration

// Exponential returns a BackoffFunc yielding base × 2^attempt.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Policy describes one retry contract. The zero value performs a single
// attempt with no timeout or delay.
type Policy struct {
	// MaxAttempts is the total number of attempts (first call included).
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Backoff computes the delay between attempts; nil disables delays.
	Backoff BackoffFunc
	// AttemptTimeout bounds each individual attempt; 0 disables the bound.
	AttemptTimeout time.Duration
	// Notify, when set, is invoked after each failed attempt that will be
	// retried. Useful for observability; must not block.
	Notify func(attempt int, err error)
}

// Do runs op under the policy. The attempt context is cancelled when
// AttemptTimeout elapses. Backoff sleeps are cancellable: if ctx is done
// while waiting, Do returns ctx.Err() immediately. On budget exhaustion the
// last error is returned wrapped in ErrExhausted.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.runAttempt(ctx, op)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		if p.Notify != nil {
			p.Notify(attempt, lastErr)
		}
		if err := p.wait(ctx, attempt); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func (p Policy) runAttempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return nil
	}
	delay := p.Backoff(attempt)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoValue runs op under the policy and returns its value. On failure the
// zero value is returned alongside the error; callers that must never fail
// substitute their documented safe default at the call site.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
