// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue defines the abstractions for consuming, processing and
// acknowledging messages from a message queue.
//
// The three phases are kept separate so delivery semantics live in the
// runtime orchestrating them rather than in business logic:
//
//   - Consumer: retrieves messages from a queue
//   - Processor: executes business logic on messages
//   - Acknowledger: confirms successful processing back to the queue
package queue

import (
	"context"
	"errors"
)

// ErrEndOfQueue should be returned by [Consumer]s that are consuming
// from a finite queue. It signals to [Runtime] implementations that a
// graceful shutdown should begin.
var ErrEndOfQueue = errors.New("queue: no more items")

// Consumer consumes message(s), T, from a queue.
type Consumer[T any] interface {
	Consume(context.Context) (T, error)
}

// ConsumerFunc is an adapter to allow the use of ordinary functions as [Consumer]s.
type ConsumerFunc[T any] func(context.Context) (T, error)

// Consume implements the [Consumer] interface.
func (f ConsumerFunc[T]) Consume(ctx context.Context) (T, error) {
	return f(ctx)
}

// Processor implements the business logic for processing message(s), T.
//
// Process is called after a message is consumed and before it is acknowledged.
// A nil return acknowledges the message; an error leaves it unacknowledged
// so the queue redelivers it.
type Processor[T any] interface {
	Process(context.Context, T) error
}

// ProcessorFunc is an adapter to allow the use of ordinary functions as [Processor]s.
type ProcessorFunc[T any] func(context.Context, T) error

// Process implements the [Processor] interface.
func (f ProcessorFunc[T]) Process(ctx context.Context, t T) error {
	return f(ctx, t)
}

// Acknowledger tells the queue that message(s), T, have been successfully processed.
type Acknowledger[T any] interface {
	Acknowledge(context.Context, T) error
}

// AcknowledgerFunc is an adapter to allow the use of ordinary functions as [Acknowledger]s.
type AcknowledgerFunc[T any] func(context.Context, T) error

// Acknowledge implements the [Acknowledger] interface.
func (f AcknowledgerFunc[T]) Acknowledge(ctx context.Context, t T) error {
	return f(ctx, t)
}

// Runtime orchestrates the message queue processing lifecycle.
//
// Implementations coordinate [Consumer], [Processor], and [Acknowledger]
// to consume, process, and acknowledge messages. When ProcessQueue returns,
// the application shuts down gracefully.
type Runtime interface {
	ProcessQueue(context.Context) error
}

// RuntimeFunc is an adapter to allow the use of ordinary functions as [Runtime]s.
type RuntimeFunc func(context.Context) error

// ProcessQueue implements the [Runtime] interface.
func (f RuntimeFunc) ProcessQueue(ctx context.Context) error {
	return f(ctx)
}
