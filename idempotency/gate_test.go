// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryKV implements [KV] with an in-memory map. It is safe for
// concurrent use so tests can race claimers against each other.
type memoryKV struct {
	mu   sync.Mutex
	vals map[string]string
	ttls map[string]time.Duration

	err error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{
		vals: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (kv *memoryKV) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.err != nil {
		return redis.NewBoolResult(false, kv.err)
	}
	if _, exists := kv.vals[key]; exists {
		return redis.NewBoolResult(false, nil)
	}

	kv.vals[key] = fmt.Sprint(value)
	kv.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (kv *memoryKV) Get(ctx context.Context, key string) *redis.StringCmd {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.err != nil {
		return redis.NewStringResult("", kv.err)
	}

	v, exists := kv.vals[key]
	if !exists {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (kv *memoryKV) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.err != nil {
		return redis.NewStatusResult("", kv.err)
	}

	kv.vals[key] = fmt.Sprint(value)
	kv.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (kv *memoryKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.err != nil {
		return redis.NewIntResult(0, kv.err)
	}

	var n int64
	for _, key := range keys {
		if _, exists := kv.vals[key]; exists {
			delete(kv.vals, key)
			delete(kv.ttls, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestGateTryClaim(t *testing.T) {
	t.Run("will acquire the claim", func(t *testing.T) {
		t.Run("if the key is unclaimed", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			claim, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)

			assert.Equal(t, ClaimAcquired, claim)
			assert.Equal(t, "PROCESSING", kv.vals["idempotency:order:order-1"])
			assert.Equal(t, DefaultProcessingTTL, kv.ttls["idempotency:order:order-1"])
		})
	})

	t.Run("will report already processing", func(t *testing.T) {
		t.Run("if another consumer holds a live claim", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			_, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)

			claim, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, AlreadyProcessing, claim)
		})
	})

	t.Run("will report already processed", func(t *testing.T) {
		t.Run("if the key was marked completed", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			_, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			require.NoError(t, g.MarkCompleted(context.Background(), "order-1"))

			claim, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, AlreadyProcessed, claim)
		})
	})

	t.Run("will report unknown", func(t *testing.T) {
		t.Run("if the marker holds an unexpected value", func(t *testing.T) {
			kv := newMemoryKV()
			kv.vals["idempotency:order:order-1"] = "GARBAGE"

			g := NewGate(kv)

			claim, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, ClaimUnknown, claim)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the store is unreachable", func(t *testing.T) {
			kv := newMemoryKV()
			kv.err = errors.New("connection refused")

			g := NewGate(kv)

			_, err := g.TryClaim(context.Background(), "order-1")
			assert.Error(t, err)
		})
	})

	t.Run("will admit exactly one claimer", func(t *testing.T) {
		t.Run("if many race for the same key", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			const claimers = 32

			var wg sync.WaitGroup
			results := make(chan Claim, claimers)
			for range claimers {
				wg.Add(1)
				go func() {
					defer wg.Done()

					claim, err := g.TryClaim(context.Background(), "order-1")
					assert.NoError(t, err)
					results <- claim
				}()
			}
			wg.Wait()
			close(results)

			acquired := 0
			for claim := range results {
				if claim == ClaimAcquired {
					acquired++
				}
			}
			assert.Equal(t, 1, acquired)
		})
	})
}

func TestGateMarkCompleted(t *testing.T) {
	t.Run("will extend the retention", func(t *testing.T) {
		t.Run("if the claim is promoted", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			_, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)

			require.NoError(t, g.MarkCompleted(context.Background(), "order-1"))
			assert.Equal(t, "PROCESSED", kv.vals["idempotency:order:order-1"])
			assert.Equal(t, DefaultProcessedTTL, kv.ttls["idempotency:order:order-1"])
		})
	})
}

func TestGateRelease(t *testing.T) {
	t.Run("will free the key", func(t *testing.T) {
		t.Run("if a claim is held", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv)

			_, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			require.NoError(t, g.Release(context.Background(), "order-1"))

			claim, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, ClaimAcquired, claim)
		})
	})
}

func TestGateOptions(t *testing.T) {
	t.Run("will override the ttls", func(t *testing.T) {
		t.Run("if options are provided", func(t *testing.T) {
			kv := newMemoryKV()
			g := NewGate(kv, ProcessingTTL(time.Minute), ProcessedTTL(time.Hour))

			_, err := g.TryClaim(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, time.Minute, kv.ttls["idempotency:order:order-1"])

			require.NoError(t, g.MarkCompleted(context.Background(), "order-1"))
			assert.Equal(t, time.Hour, kv.ttls["idempotency:order:order-1"])
		})
	})
}
