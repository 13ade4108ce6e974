// Package retry runs chain transactions under a bounded, configurable policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	MinAttempts = 1
	MaxAttempts = 10
	MaxDelay    = time.Minute
)

// Policy is a fixed attempt count with a constant delay between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy retries up to four attempts back to back.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		Delay:       0,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < MinAttempts || p.MaxAttempts > MaxAttempts {
		return fmt.Errorf("max attempts must be between %d and %d, got %d", MinAttempts, MaxAttempts, p.MaxAttempts)
	}
	if p.Delay < 0 || p.Delay > MaxDelay {
		return fmt.Errorf("retry delay must be between 0 and %s, got %s", MaxDelay, p.Delay)
	}
	return nil
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// done, or the policy runs out of attempts. onRetry, when set, is called
// with the failed attempt number before the next attempt.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	if err := p.Validate(); err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}
