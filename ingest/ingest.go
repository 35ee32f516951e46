// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package ingest consumes inbound order messages from Kafka and drives
// them through the idempotency gate, the order processor and, when all
// else fails, the dead-letter topic.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mouts-info/orderservice"
	"github.com/mouts-info/orderservice/idempotency"
	"github.com/mouts-info/orderservice/order"
	"github.com/mouts-info/orderservice/queue"
	"github.com/mouts-info/orderservice/queue/kafka"
)

const (
	// HeaderIdempotencyKey carries the producer-assigned idempotency key
	// on inbound order messages.
	HeaderIdempotencyKey = "X-Idempotency-Key"

	// HeaderFailureType classifies dead-lettered messages.
	HeaderFailureType = "X-Failure-Type"

	// HeaderFailureMessage carries the final error text of a
	// dead-lettered message.
	HeaderFailureMessage = "X-Failure-Message"
)

// Failure type header values.
const (
	FailureMissingKey   = "MissingIdempotencyKey"
	FailureValidation   = "ValidationError"
	FailureDuplicateKey = "DuplicateKeyError"
	FailureProcessing   = "ProcessingError"
)

// OrderProcessor turns a validated request into a persisted order.
type OrderProcessor interface {
	Process(ctx context.Context, req order.Request, idempotencyKey string) (*order.Order, error)
}

// CompletionPublisher announces successfully processed orders.
type CompletionPublisher interface {
	PublishCompleted(context.Context, *order.Order) error
}

// ClaimGate is the idempotency gate guarding message processing.
type ClaimGate interface {
	TryClaim(ctx context.Context, key string) (idempotency.Claim, error)
	MarkCompleted(ctx context.Context, key string) error
}

// DeadLetterer synchronously produces records to the dead-letter topic.
type DeadLetterer interface {
	ProduceSync(context.Context, kafka.Record) error
}

// Handler processes inbound order messages. Returning nil acknowledges
// the message; returning an error halts the partition worker so the
// message is redelivered after a rebalance.
type Handler struct {
	log      *slog.Logger
	gate     ClaimGate
	attempts queue.Processor[kafka.Message]
	dlt      DeadLetterer
	dltTopic string
}

// HandlerConfig carries the collaborators of a [Handler].
type HandlerConfig struct {
	Gate       ClaimGate
	Processor  OrderProcessor
	Publisher  CompletionPublisher
	DeadLetter DeadLetterer
	DLTTopic   string
	Retry      queue.RetryPolicy
}

// NewHandler builds a [Handler]. Processing attempts are retried per
// cfg.Retry; validation and duplicate-key failures are permanent and
// skip straight to the dead-letter topic.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		log:      orderservice.Logger("github.com/mouts-info/orderservice/ingest"),
		gate:     cfg.Gate,
		dlt:      cfg.DeadLetter,
		dltTopic: cfg.DLTTopic,
	}

	attempt := queue.ProcessorFunc[kafka.Message](func(ctx context.Context, msg kafka.Message) error {
		return h.processOnce(ctx, cfg.Processor, cfg.Publisher, msg)
	})
	h.attempts = queue.Retry(cfg.Retry, attempt)

	return h
}

// Process implements [queue.Processor].
func (h *Handler) Process(ctx context.Context, msg kafka.Message) error {
	key, ok := idempotencyKey(msg)
	if !ok {
		h.log.WarnContext(
			ctx,
			"dead lettering message without idempotency key",
			kafka.TopicAttr(msg.Topic),
			kafka.PartitionAttr(msg.Partition),
			kafka.OffsetAttr(msg.Offset),
		)
		return h.deadLetter(ctx, msg, FailureMissingKey, "message carries no "+HeaderIdempotencyKey+" header")
	}

	claim, err := h.gate.TryClaim(ctx, key)
	if err != nil {
		// The gate is unreachable. Halt without acknowledging so the
		// message comes back once Redis does.
		return err
	}

	switch claim {
	case idempotency.AlreadyProcessed, idempotency.AlreadyProcessing:
		h.log.InfoContext(
			ctx,
			"skipping already claimed message",
			slog.String("order.idempotency_key", key),
			slog.String("idempotency.claim", claim.String()),
		)
		return nil
	case idempotency.ClaimUnknown:
		h.log.ErrorContext(
			ctx,
			"skipping message whose idempotency claim is in an unknown state",
			slog.String("order.idempotency_key", key),
		)
		return nil
	}

	err = h.attempts.Process(ctx, msg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown interrupted the retry budget. Halt without
			// acknowledging so the message is redelivered instead of
			// dead lettered.
			return err
		}
		return h.deadLetter(ctx, msg, failureType(err), err.Error())
	}
	return nil
}

// processOnce is a single processing attempt: decode, validate,
// persist, announce. It runs under the retry middleware.
func (h *Handler) processOnce(ctx context.Context, processor OrderProcessor, publisher CompletionPublisher, msg kafka.Message) error {
	key, _ := idempotencyKey(msg)

	req, err := order.DecodeRequest(msg.Value)
	if err != nil {
		return queue.Permanent(fmt.Errorf("%w: %w", order.ErrInvalidRequest, err))
	}

	o, err := processor.Process(ctx, req, key)
	if err != nil {
		if errors.Is(err, order.ErrInvalidRequest) || errors.Is(err, order.ErrDuplicateKey) {
			return queue.Permanent(err)
		}
		return err
	}

	// The order row is committed. From here on failures are logged but
	// never undo the persisted order.
	err = publisher.PublishCompleted(ctx, o)
	if err != nil {
		h.log.ErrorContext(
			ctx,
			"failed to publish completion event",
			slog.String("order.id", o.ID.String()),
			slog.Any("error", err),
		)
	}

	err = h.gate.MarkCompleted(ctx, key)
	if err != nil {
		// The PROCESSING claim still guards redeliveries until its TTL
		// runs out, and the unique index backstops after that.
		h.log.WarnContext(
			ctx,
			"failed to mark idempotency key completed",
			slog.String("order.idempotency_key", key),
			slog.Any("error", err),
		)
	}
	return nil
}

// deadLetter routes msg to the dead-letter topic, preserving its key,
// value and headers and appending the failure classification. The
// produce is synchronous: the original message is only acknowledged
// once the dead letter is safely on the broker.
func (h *Handler) deadLetter(ctx context.Context, msg kafka.Message, failure, detail string) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	headers = append(headers, msg.Headers...)
	headers = append(
		headers,
		kafka.Header{Key: HeaderFailureType, Value: []byte(failure)},
		kafka.Header{Key: HeaderFailureMessage, Value: []byte(detail)},
	)

	err := h.dlt.ProduceSync(ctx, kafka.Record{
		Topic:   h.dltTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("ingest: failed to dead letter message: %w", err)
	}

	h.log.ErrorContext(
		ctx,
		"dead lettered message",
		kafka.TopicAttr(h.dltTopic),
		slog.String("failure.type", failure),
		slog.String("failure.message", detail),
	)
	return nil
}

func idempotencyKey(msg kafka.Message) (string, bool) {
	v, ok := msg.LastHeader(HeaderIdempotencyKey)
	if !ok || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

func failureType(err error) string {
	switch {
	case errors.Is(err, order.ErrInvalidRequest):
		return FailureValidation
	case errors.Is(err, order.ErrDuplicateKey):
		return FailureDuplicateKey
	default:
		return FailureProcessing
	}
}
