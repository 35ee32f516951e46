// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"time"
)

// PermanentError wraps an error to mark it as non-retryable.
// [Retry] stops immediately when the wrapped processor returns one.
type PermanentError struct {
	Err error
}

// Permanent marks err as non-retryable. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

// Unwrap supports [errors.Is] and [errors.As] against the wrapped error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is, or wraps, a [PermanentError].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryPolicy describes an exponential backoff retry schedule.
//
// MaxAttempts is the total delivery attempt budget, including the first
// attempt. The n-th wait is InitialInterval * Multiplier^(n-1), capped
// at MaxInterval.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the retry schedule used by the ingest
// pipeline: 3 total attempts, 1s initial backoff, doubling, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Second,
	}
}

// Interval returns the wait before the given retry (1-based: the wait
// after the first failed attempt is Interval(1)).
func (p RetryPolicy) Interval(retry int) time.Duration {
	d := time.Duration(float64(p.InitialInterval) * pow(p.Multiplier, retry-1))
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for range exp {
		out *= base
	}
	return out
}

// Retry wraps a [Processor] with the given retry policy.
//
// Transient errors are retried with exponential backoff until the
// attempt budget is exhausted; the last error is returned. Errors
// wrapped with [Permanent] short-circuit the budget. Context
// cancellation aborts the backoff wait.
func Retry[T any](policy RetryPolicy, processor Processor[T]) Processor[T] {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	return ProcessorFunc[T](func(ctx context.Context, t T) error {
		var lastErr error
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			lastErr = processor.Process(ctx, t)
			if lastErr == nil {
				return nil
			}
			if IsPermanent(lastErr) {
				return lastErr
			}
			if attempt == policy.MaxAttempts {
				break
			}

			timer := time.NewTimer(policy.Interval(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		return lastErr
	})
}
