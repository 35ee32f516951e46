// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dlt reconciles dead-lettered order messages against the
// store so failed ingestion attempts leave a durable FAILED row
// wherever one can be reconstructed from the message.
package dlt

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mouts-info/orderservice"
	"github.com/mouts-info/orderservice/ingest"
	"github.com/mouts-info/orderservice/order"
	"github.com/mouts-info/orderservice/queue/kafka"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/mouts-info/orderservice/dlt"

// Store is the subset of the order store the reconciler needs.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error)
	MarkFailed(ctx context.Context, id uuid.UUID, version int64, reason string) error
	SaveNew(context.Context, *order.Order) error
}

// Reconciler consumes the dead-letter topic. It never asks for a
// redelivery: every branch, including reconciliation failure, returns
// nil so the topic keeps draining. Failures are logged and counted
// instead.
type Reconciler struct {
	log        *slog.Logger
	store      Store
	reconciled metric.Int64Counter
}

// NewReconciler creates a [Reconciler] over store.
func NewReconciler(store Store) *Reconciler {
	log := orderservice.Logger(instrumentationName)

	reconciled, err := otel.Meter(instrumentationName).Int64Counter(
		"orders.dead_letters.reconciled",
		metric.WithDescription("Number of dead-lettered order messages handled, by outcome."),
	)
	if err != nil {
		log.Warn("failed to initialize reconciled counter", slog.Any("error", err))
	}

	return &Reconciler{
		log:        log,
		store:      store,
		reconciled: reconciled,
	}
}

// Process implements [queue.Processor].
func (r *Reconciler) Process(ctx context.Context, msg kafka.Message) error {
	reason := failureReason(msg)

	key, ok := msg.LastHeader(ingest.HeaderIdempotencyKey)
	if !ok || len(key) == 0 {
		r.log.ErrorContext(
			ctx,
			"dead letter carries no idempotency key, nothing to reconcile",
			kafka.TopicAttr(msg.Topic),
			kafka.PartitionAttr(msg.Partition),
			kafka.OffsetAttr(msg.Offset),
		)
		r.record(ctx, "unreconcilable")
		return nil
	}

	o, err := r.store.FindByIdempotencyKey(ctx, string(key))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			r.recordFailedOrder(ctx, msg, string(key), reason)
			return nil
		}
		r.log.ErrorContext(
			ctx,
			"failed to look up dead lettered order",
			slog.String("order.idempotency_key", string(key)),
			slog.Any("error", err),
		)
		r.record(ctx, "error")
		return nil
	}

	if o.Status.Terminal() {
		r.log.InfoContext(
			ctx,
			"dead lettered order already terminal, skipping",
			slog.String("order.id", o.ID.String()),
			slog.String("order.status", string(o.Status)),
		)
		r.record(ctx, "already_terminal")
		return nil
	}

	err = r.store.MarkFailed(ctx, o.ID, o.Version, reason)
	if err != nil {
		r.log.ErrorContext(
			ctx,
			"failed to mark dead lettered order failed",
			slog.String("order.id", o.ID.String()),
			slog.Any("error", err),
		)
		r.record(ctx, "error")
		return nil
	}

	r.log.InfoContext(
		ctx,
		"marked dead lettered order failed",
		slog.String("order.id", o.ID.String()),
		slog.String("order.failure_reason", reason),
	)
	r.record(ctx, "marked_failed")
	return nil
}

// recordFailedOrder persists a fresh FAILED row for a dead letter no
// prior processing attempt got far enough to store. The total stays
// zero: the order was never processed. An undecodable payload is only
// logged, there is no order to reconstruct from it.
func (r *Reconciler) recordFailedOrder(ctx context.Context, msg kafka.Message, key, reason string) {
	req, err := order.DecodeRequest(msg.Value)
	if err != nil {
		r.log.ErrorContext(
			ctx,
			"dead letter payload is undecodable, nothing to record",
			slog.String("order.idempotency_key", key),
			slog.Any("error", err),
		)
		r.record(ctx, "unreconcilable")
		return
	}

	o := &order.Order{
		ID:             uuid.New(),
		IdempotencyKey: key,
		Status:         order.StatusFailed,
		Total:          decimal.Zero,
		FailureReason:  reason,
		Items:          make([]order.OrderItem, len(req.Items)),
	}
	for i, item := range req.Items {
		o.Items[i] = order.OrderItem{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	err = r.store.SaveNew(ctx, o)
	if err != nil {
		// A duplicate here means an ingest consumer persisted the order
		// between our lookup and this insert. That row wins.
		if errors.Is(err, order.ErrDuplicateKey) {
			r.record(ctx, "already_terminal")
			return
		}
		r.log.ErrorContext(
			ctx,
			"failed to record failed order",
			slog.String("order.idempotency_key", key),
			slog.Any("error", err),
		)
		r.record(ctx, "error")
		return
	}

	r.log.InfoContext(
		ctx,
		"recorded failed order for dead letter",
		slog.String("order.id", o.ID.String()),
		slog.String("order.failure_reason", reason),
	)
	r.record(ctx, "recorded_failed")
}

func (r *Reconciler) record(ctx context.Context, outcome string) {
	if r.reconciled == nil {
		return
	}
	r.reconciled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reconcile.outcome", outcome),
	))
}

func failureReason(msg kafka.Message) string {
	failure, _ := msg.LastHeader(ingest.HeaderFailureType)
	detail, _ := msg.LastHeader(ingest.HeaderFailureMessage)

	switch {
	case len(failure) == 0 && len(detail) == 0:
		return "Unknown DLT Failure"
	case len(failure) == 0:
		return string(detail)
	case len(detail) == 0:
		return string(failure)
	default:
		return string(failure) + ": " + string(detail)
	}
}
