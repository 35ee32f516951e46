// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mouts-info/orderservice/queue"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// partitionWorker processes the records of a single assigned partition.
//
// Records are processed strictly in offset order and a fetch batch is
// committed only after every record in it has been processed. A
// processing error halts the worker without committing, so the batch is
// redelivered after the next rebalance or restart.
type partitionWorker struct {
	log          *slog.Logger
	tp           topicPartition
	tracer       *kotel.Tracer
	consumer     queue.Consumer[fetch]
	processor    queue.Processor[Message]
	acknowledger queue.Acknowledger[[]*kgo.Record]
	metrics      consumerMetrics
}

func newPartitionWorker(
	log *slog.Logger,
	tp topicPartition,
	consumer queue.Consumer[fetch],
	processor queue.Processor[Message],
	acknowledger queue.Acknowledger[[]*kgo.Record],
) *partitionWorker {
	return &partitionWorker{
		log:          log.With(TopicAttr(tp.topic), PartitionAttr(tp.partition)),
		tp:           tp,
		tracer:       kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()), kotel.LinkSpans()),
		consumer:     consumer,
		processor:    processor,
		acknowledger: acknowledger,
		metrics:      initConsumerMetrics(log),
	}
}

// ProcessQueue implements the [queue.Runtime] interface.
func (w *partitionWorker) ProcessQueue(ctx context.Context) error {
	for {
		f, err := w.consumer.Consume(ctx)
		if errors.Is(err, queue.ErrEndOfQueue) {
			w.log.InfoContext(ctx, "partition worker draining")
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, record := range f.records {
			err := w.processRecord(ctx, record)
			if err != nil {
				return fmt.Errorf(
					"kafka: failed to process record (topic=%s partition=%d offset=%d): %w",
					record.Topic, record.Partition, record.Offset, err,
				)
			}
		}

		err = w.acknowledger.Acknowledge(ctx, f.records)
		if err != nil {
			return fmt.Errorf("kafka: failed to commit records: %w", err)
		}
		w.metrics.recordCommitted(ctx, w.tp, len(f.records))
	}
}

func (w *partitionWorker) processRecord(ctx context.Context, record *kgo.Record) error {
	if record.Context == nil {
		record.Context = ctx
	}

	spanCtx, span := w.tracer.WithProcessSpan(record)
	defer span.End()

	err := w.processor.Process(spanCtx, messageFromRecord(record))
	if err != nil {
		w.log.ErrorContext(
			spanCtx,
			"failed to process kafka record",
			OffsetAttr(record.Offset),
			slog.Any("error", err),
		)
		w.metrics.recordProcessed(spanCtx, w.tp, false)
		return err
	}

	w.metrics.recordProcessed(spanCtx, w.tp, true)
	return nil
}
