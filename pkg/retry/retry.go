// Package retry runs an operation with a bounded number of attempts and a pluggable delay.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DelayFunc returns how long to wait after the given failed attempt (1-based)
type DelayFunc func(attempt int) time.Duration

// Linear waits base * attempt after each failure
func Linear(base time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Policy configures Do
type Policy struct {
	MaxAttempts int
	Delay       DelayFunc
	// OnRetry is called before waiting for the next attempt
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Operation is one attempt. attempt is 1-based.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// delayBackOff adapts a DelayFunc to backoff.BackOff
type delayBackOff struct {
	delay   DelayFunc
	attempt int
}

func (b *delayBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.delay == nil {
		return 0
	}
	return b.delay(b.attempt)
}

func (b *delayBackOff) Reset() {
	b.attempt = 0
}

// Do runs op until it succeeds, returns a permanent error, or MaxAttempts is reached.
// It returns the number of attempts made along with the last result and error.
func Do[T any](ctx context.Context, policy Policy, op Operation[T]) (T, int, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	attempts := 0
	operation := func() (T, error) {
		attempts++
		return op(ctx, attempts)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&delayBackOff{delay: policy.Delay}),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if policy.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			policy.OnRetry(attempts, err, wait)
		}))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
	}
	return result, attempts, err
}
