// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroWaitPolicy keeps tests fast: the schedule shape is exercised
// separately via [RetryPolicy.Interval].
func zeroWaitPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: 0,
		Multiplier:      2.0,
		MaxInterval:     0,
	}
}

func TestRetryPolicyInterval(t *testing.T) {
	policy := DefaultRetryPolicy()

	testCases := []struct {
		Name     string
		Retry    int
		Interval time.Duration
	}{
		{
			Name:     "first retry waits the initial interval",
			Retry:    1,
			Interval: time.Second,
		},
		{
			Name:     "second retry doubles",
			Retry:    2,
			Interval: 2 * time.Second,
		},
		{
			Name:     "third retry doubles again",
			Retry:    3,
			Interval: 4 * time.Second,
		},
		{
			Name:     "later retries are capped at the max interval",
			Retry:    4,
			Interval: 5 * time.Second,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			assert.Equal(t, testCase.Interval, policy.Interval(testCase.Retry))
		})
	}
}

func TestRetry(t *testing.T) {
	t.Run("will not retry", func(t *testing.T) {
		t.Run("if the processor succeeds on the first attempt", func(t *testing.T) {
			attempts := 0
			p := Retry(zeroWaitPolicy(3), ProcessorFunc[string](func(ctx context.Context, s string) error {
				attempts++
				return nil
			}))

			err := p.Process(context.Background(), "msg")
			require.NoError(t, err)
			assert.Equal(t, 1, attempts)
		})

		t.Run("if the processor returns a permanent error", func(t *testing.T) {
			cause := errors.New("malformed payload")
			attempts := 0
			p := Retry(zeroWaitPolicy(3), ProcessorFunc[string](func(ctx context.Context, s string) error {
				attempts++
				return Permanent(cause)
			}))

			err := p.Process(context.Background(), "msg")
			assert.ErrorIs(t, err, cause)
			assert.True(t, IsPermanent(err))
			assert.Equal(t, 1, attempts)
		})
	})

	t.Run("will retry transient errors", func(t *testing.T) {
		t.Run("if the processor eventually succeeds", func(t *testing.T) {
			attempts := 0
			p := Retry(zeroWaitPolicy(3), ProcessorFunc[string](func(ctx context.Context, s string) error {
				attempts++
				if attempts < 3 {
					return errors.New("transient")
				}
				return nil
			}))

			err := p.Process(context.Background(), "msg")
			require.NoError(t, err)
			assert.Equal(t, 3, attempts)
		})

		t.Run("if the attempt budget runs out", func(t *testing.T) {
			cause := errors.New("still broken")
			attempts := 0
			p := Retry(zeroWaitPolicy(3), ProcessorFunc[string](func(ctx context.Context, s string) error {
				attempts++
				return cause
			}))

			err := p.Process(context.Background(), "msg")
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, 3, attempts)
		})
	})

	t.Run("will stop waiting", func(t *testing.T) {
		t.Run("if the context is cancelled during backoff", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())

			cause := errors.New("transient")
			policy := RetryPolicy{
				MaxAttempts:     3,
				InitialInterval: time.Minute,
				Multiplier:      2.0,
			}
			p := Retry(policy, ProcessorFunc[string](func(ctx context.Context, s string) error {
				cancel()
				return cause
			}))

			err := p.Process(ctx, "msg")
			assert.ErrorIs(t, err, cause)
			assert.ErrorIs(t, err, context.Canceled)
		})
	})

	t.Run("will process at least once", func(t *testing.T) {
		t.Run("if the policy has a non-positive attempt budget", func(t *testing.T) {
			attempts := 0
			p := Retry(zeroWaitPolicy(0), ProcessorFunc[string](func(ctx context.Context, s string) error {
				attempts++
				return nil
			}))

			err := p.Process(context.Background(), "msg")
			require.NoError(t, err)
			assert.Equal(t, 1, attempts)
		})
	})
}

func TestPermanent(t *testing.T) {
	t.Run("will return nil", func(t *testing.T) {
		t.Run("if the error is nil", func(t *testing.T) {
			assert.Nil(t, Permanent(nil))
		})
	})

	t.Run("will preserve the cause", func(t *testing.T) {
		t.Run("if inspected with errors.Is", func(t *testing.T) {
			cause := errors.New("boom")
			err := Permanent(cause)

			assert.ErrorIs(t, err, cause)
			assert.True(t, IsPermanent(err))
		})
	})
}
