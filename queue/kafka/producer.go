// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
)

// Record is an outbound Kafka record.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

// Publisher produces records to Kafka. It is safe for concurrent use
// and shared by the dead-letter router and the completion event
// publisher.
type Publisher struct {
	log    *slog.Logger
	client *kgo.Client
}

// NewPublisher creates a [Publisher] connected to the given brokers.
func NewPublisher(brokers []string) (*Publisher, error) {
	log := logger()

	client, err := kgo.NewClient(
		kgo.WithLogger(kslog.New(log)),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
			),
		),
		kgo.SeedBrokers(brokers...),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer client: %w", err)
	}

	return &Publisher{
		log:    log,
		client: client,
	}, nil
}

// Produce sends the record asynchronously. Delivery failures are logged
// but otherwise dropped; callers that need delivery confirmation should
// use [Publisher.ProduceSync].
func (p *Publisher) Produce(ctx context.Context, rec Record) {
	p.client.Produce(ctx, kgoRecord(rec), func(r *kgo.Record, err error) {
		if err != nil {
			p.log.ErrorContext(
				ctx,
				"failed to produce record",
				TopicAttr(r.Topic),
				slog.String("messaging.kafka.message.key", string(r.Key)),
				slog.Any("error", err),
			)
			return
		}

		p.log.InfoContext(
			ctx,
			"produced record",
			TopicAttr(r.Topic),
			PartitionAttr(r.Partition),
			OffsetAttr(r.Offset),
			slog.String("messaging.kafka.message.key", string(r.Key)),
		)
	})
}

// ProduceSync sends the record and waits for broker acknowledgement.
func (p *Publisher) ProduceSync(ctx context.Context, rec Record) error {
	err := p.client.ProduceSync(ctx, kgoRecord(rec)).FirstErr()
	if err != nil {
		return fmt.Errorf("kafka: failed to produce record to %s: %w", rec.Topic, err)
	}
	return nil
}

// Close flushes buffered records and closes the underlying client.
func (p *Publisher) Close(ctx context.Context) error {
	defer p.client.Close()
	return p.client.Flush(ctx)
}

func kgoRecord(rec Record) *kgo.Record {
	headers := make([]kgo.RecordHeader, len(rec.Headers))
	for i, hdr := range rec.Headers {
		headers[i] = kgo.RecordHeader{
			Key:   hdr.Key,
			Value: hdr.Value,
		}
	}

	return &kgo.Record{
		Topic:   rec.Topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	}
}
