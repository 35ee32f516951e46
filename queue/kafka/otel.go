// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/mouts-info/orderservice"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const instrumentationName = "github.com/mouts-info/orderservice/queue/kafka"

func logger() *slog.Logger {
	return orderservice.Logger(instrumentationName)
}

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type consumerMetrics struct {
	messagesProcessed metric.Int64Counter
	messagesCommitted metric.Int64Counter
}

func initConsumerMetrics(log *slog.Logger) consumerMetrics {
	m := meter()

	messagesProcessed, err := m.Int64Counter(
		"messaging.client.messages.processed",
		metric.WithDescription("Total number of Kafka messages processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		log.Warn("failed to create messages processed metric", slog.Any("error", err))
	}

	messagesCommitted, err := m.Int64Counter(
		"messaging.client.messages.committed",
		metric.WithDescription("Total number of Kafka messages successfully committed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		log.Warn("failed to create messages committed metric", slog.Any("error", err))
	}

	return consumerMetrics{
		messagesProcessed: messagesProcessed,
		messagesCommitted: messagesCommitted,
	}
}

func (m consumerMetrics) recordProcessed(ctx context.Context, tp topicPartition, success bool) {
	if m.messagesProcessed == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	m.messagesProcessed.Add(ctx, 1, metric.WithAttributes(
		semconv.MessagingSystemKafka,
		semconv.MessagingDestinationName(tp.topic),
		semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(tp.partition), 10)),
		attribute.String("messaging.process.status", status),
	))
}

func (m consumerMetrics) recordCommitted(ctx context.Context, tp topicPartition, count int) {
	if m.messagesCommitted == nil {
		return
	}

	m.messagesCommitted.Add(ctx, int64(count), metric.WithAttributes(
		semconv.MessagingSystemKafka,
		semconv.MessagingDestinationName(tp.topic),
		semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(tp.partition), 10)),
	))
}

// The slog attribute helpers below mirror the semconv attribute names
// used on the metrics above, so logs and metrics from the ingest and
// dead-letter consumers stay queryable by the same keys.

// GroupIDAttr returns a slog attribute for the Kafka consumer group ID.
func GroupIDAttr(groupID string) slog.Attr {
	return slog.String("messaging.consumer.group.name", groupID)
}

// TopicAttr returns a slog attribute for the Kafka topic.
func TopicAttr(topic string) slog.Attr {
	return slog.String("messaging.destination.name", topic)
}

// PartitionAttr returns a slog attribute for the Kafka partition.
func PartitionAttr(partition int32) slog.Attr {
	return slog.Int64("messaging.destination.partition.id", int64(partition))
}

// OffsetAttr returns a slog attribute for the Kafka offset.
func OffsetAttr(offset int64) slog.Attr {
	return slog.Int64("messaging.kafka.offset", offset)
}
