// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package idempotency implements the Redis-backed claim gate which
// keeps redelivered order messages from being processed twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mouts-info/orderservice"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:order:"

const (
	stateProcessing = "PROCESSING"
	stateProcessed  = "PROCESSED"
)

const (
	// DefaultProcessingTTL bounds how long a crashed consumer can hold
	// a claim before redelivery may proceed.
	DefaultProcessingTTL = time.Hour

	// DefaultProcessedTTL is how long completed work is remembered.
	DefaultProcessedTTL = 24 * time.Hour
)

// Claim is the outcome of [Gate.TryClaim].
type Claim int

const (
	// ClaimUnknown means the gate found a marker value it does not
	// recognize. Callers should treat the message as handled elsewhere.
	ClaimUnknown Claim = iota

	// ClaimAcquired means the caller owns the key and must process the
	// message.
	ClaimAcquired

	// AlreadyProcessing means another consumer holds a live claim.
	AlreadyProcessing

	// AlreadyProcessed means the message was fully handled before.
	AlreadyProcessed
)

// String implements [fmt.Stringer].
func (c Claim) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case AlreadyProcessing:
		return "already_processing"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// KV is the subset of [redis.Client] the gate needs.
type KV interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Gate is a first-writer-wins claim registry over Redis. Keys expire on
// their own; the gate never needs cleanup.
type Gate struct {
	log           *slog.Logger
	kv            KV
	processingTTL time.Duration
	processedTTL  time.Duration
}

// GateOption configures a [Gate].
type GateOption func(*Gate)

// ProcessingTTL overrides [DefaultProcessingTTL].
func ProcessingTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.processingTTL = ttl
	}
}

// ProcessedTTL overrides [DefaultProcessedTTL].
func ProcessedTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.processedTTL = ttl
	}
}

// NewGate creates a [Gate] on top of kv.
func NewGate(kv KV, opts ...GateOption) *Gate {
	g := &Gate{
		log:           orderservice.Logger("github.com/mouts-info/orderservice/idempotency"),
		kv:            kv,
		processingTTL: DefaultProcessingTTL,
		processedTTL:  DefaultProcessedTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryClaim attempts to acquire the claim for key with a single atomic
// set-if-absent. Exactly one caller per key observes [ClaimAcquired]
// while the claim is live; everyone else learns why they lost.
func (g *Gate) TryClaim(ctx context.Context, key string) (Claim, error) {
	ok, err := g.kv.SetNX(ctx, keyPrefix+key, stateProcessing, g.processingTTL).Result()
	if err != nil {
		return ClaimUnknown, fmt.Errorf("idempotency: failed to claim key %s: %w", key, err)
	}
	if ok {
		return ClaimAcquired, nil
	}

	state, err := g.kv.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		// The claim expired between SetNX and Get. The message will be
		// redelivered and claimed cleanly next time around.
		if errors.Is(err, redis.Nil) {
			return AlreadyProcessing, nil
		}
		return ClaimUnknown, fmt.Errorf("idempotency: failed to inspect key %s: %w", key, err)
	}

	switch state {
	case stateProcessing:
		return AlreadyProcessing, nil
	case stateProcessed:
		return AlreadyProcessed, nil
	default:
		g.log.WarnContext(
			ctx,
			"unexpected idempotency marker",
			slog.String("idempotency.key", key),
			slog.String("idempotency.state", state),
		)
		return ClaimUnknown, nil
	}
}

// MarkCompleted promotes the claim for key to PROCESSED with the longer
// retention. It overwrites unconditionally; the caller owns the claim.
func (g *Gate) MarkCompleted(ctx context.Context, key string) error {
	err := g.kv.Set(ctx, keyPrefix+key, stateProcessed, g.processedTTL).Err()
	if err != nil {
		return fmt.Errorf("idempotency: failed to mark key %s completed: %w", key, err)
	}
	return nil
}

// Release drops the claim for key, letting the next delivery claim it
// immediately instead of waiting out the PROCESSING TTL.
func (g *Gate) Release(ctx context.Context, key string) error {
	err := g.kv.Del(ctx, keyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("idempotency: failed to release key %s: %w", key, err)
	}
	return nil
}
