// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka implements the queue abstractions on top of Apache Kafka
// using franz-go.
//
// The runtime consumes as part of a consumer group with auto-commit
// disabled. Each assigned partition is handled by its own worker which
// processes records strictly in offset order and commits only after the
// processor has returned successfully, preserving at-least-once delivery
// and per-partition ordering.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mouts-info/orderservice/app"
	"github.com/mouts-info/orderservice/config"
	"github.com/mouts-info/orderservice/queue"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
)

// Header represents a Kafka message header.
type Header struct {
	Key   string
	Value []byte
}

// Message represents a Kafka message.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
	Topic     string
	Partition int32
	Offset    int64
}

// LastHeader returns the value of the last header with the given key,
// mirroring Kafka's last-write-wins header semantics. The second return
// reports whether the header was present.
func (m Message) LastHeader(key string) ([]byte, bool) {
	for i := len(m.Headers) - 1; i >= 0; i-- {
		if m.Headers[i].Key == key {
			return m.Headers[i].Value, true
		}
	}
	return nil, false
}

// TopicProcessor associates a topic with the processor for its records.
type TopicProcessor struct {
	Topic     string
	Processor queue.Processor[Message]
}

// Config holds configuration readers for Kafka infrastructure settings.
type Config struct {
	Brokers              config.Reader[[]string]
	GroupID              config.Reader[string]
	SessionTimeout       config.Reader[time.Duration]
	RebalanceTimeout     config.Reader[time.Duration]
	FetchMaxBytes        config.Reader[int32]
	MaxConcurrentFetches config.Reader[int]
}

// BrokersFromEnv reads Kafka broker addresses from the KAFKA_BROKERS
// environment variable. Brokers should be comma-separated
// (e.g. "localhost:9092,localhost:9093").
func BrokersFromEnv() config.Reader[[]string] {
	return config.Map(
		config.Env("KAFKA_BROKERS"),
		func(ctx context.Context, s string) ([]string, error) {
			return strings.Split(s, ","), nil
		},
	)
}

// GroupIDFromEnv reads the Kafka consumer group ID from the
// KAFKA_GROUP_ID environment variable.
func GroupIDFromEnv() config.Reader[string] {
	return config.Env("KAFKA_GROUP_ID")
}

// FetchMaxBytesFromEnv reads the maximum fetch bytes from the
// KAFKA_FETCH_MAX_BYTES environment variable.
func FetchMaxBytesFromEnv() config.Reader[int32] {
	return config.Map(
		config.Env("KAFKA_FETCH_MAX_BYTES"),
		func(ctx context.Context, s string) (int32, error) {
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return 0, err
			}
			return int32(n), nil
		},
	)
}

// Runtime consumes the configured topics and dispatches records to
// their per-partition workers.
type Runtime struct {
	log                  *slog.Logger
	brokers              []string
	groupID              string
	topics               map[string]queue.Processor[Message]
	sessionTimeout       time.Duration
	rebalanceTimeout     time.Duration
	fetchMaxBytes        int32
	maxConcurrentFetches int
}

// Build creates an [app.Builder] for a Kafka consumer [Runtime].
//
// Infrastructure settings are read from cfg; absent optional settings
// fall back to defaults. Every topic is processed with committed-after-
// processing (at-least-once) semantics.
func Build(cfg Config, topics []TopicProcessor) app.Builder[Runtime] {
	return app.BuilderFunc[Runtime](func(ctx context.Context) (Runtime, error) {
		if len(topics) == 0 {
			return Runtime{}, fmt.Errorf("kafka: at least one topic must be configured")
		}

		brokers := config.Must(ctx, cfg.Brokers)
		groupID := config.Must(ctx, cfg.GroupID)

		sessionTimeout := config.MustOr(ctx, 45*time.Second, cfg.SessionTimeout)
		rebalanceTimeout := config.MustOr(ctx, 30*time.Second, cfg.RebalanceTimeout)
		fetchMaxBytes := config.MustOr(ctx, int32(50*1024*1024), cfg.FetchMaxBytes)
		maxConcurrentFetches := config.MustOr(ctx, 0, cfg.MaxConcurrentFetches)

		processors := make(map[string]queue.Processor[Message], len(topics))
		for _, tp := range topics {
			if tp.Processor == nil {
				return Runtime{}, fmt.Errorf("kafka: topic %s has no processor", tp.Topic)
			}
			processors[tp.Topic] = tp.Processor
		}

		return Runtime{
			log:                  logger().With(GroupIDAttr(groupID)),
			brokers:              brokers,
			groupID:              groupID,
			topics:               processors,
			sessionTimeout:       sessionTimeout,
			rebalanceTimeout:     rebalanceTimeout,
			fetchMaxBytes:        fetchMaxBytes,
			maxConcurrentFetches: maxConcurrentFetches,
		}, nil
	})
}

// ProcessQueue implements the [queue.Runtime] interface.
//
// It blocks until the context is cancelled or a partition worker fails.
// A worker failure leaves its records uncommitted so they are redelivered
// once the group rebalances.
func (r Runtime) ProcessQueue(ctx context.Context) error {
	loop := newEventLoop(ctx, r.log, r.topics)

	onAssigned := loop.onPartitionsAssigned(ctx)
	onRevoked := loop.onPartitionsRevoked(ctx)
	onLost := loop.onPartitionsLost(ctx)

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}

	client, err := kgo.NewClient(
		kgo.WithLogger(kslog.New(r.log)),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
				kotel.LinkSpans(),
				kotel.ConsumerGroup(r.groupID),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
				kotel.WithMergedConnectsMeter(),
			),
		),
		kgo.SeedBrokers(r.brokers...),
		kgo.ConsumerGroup(r.groupID),
		kgo.ConsumeTopics(topics...),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.SessionTimeout(r.sessionTimeout),
		kgo.RebalanceTimeout(r.rebalanceTimeout),
		kgo.FetchMaxBytes(r.fetchMaxBytes),
		kgo.MaxConcurrentFetches(r.maxConcurrentFetches),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(cbCtx context.Context, c *kgo.Client, assigned map[string][]int32) {
			onAssigned(cbCtx, c, assigned)
		}),
		kgo.OnPartitionsRevoked(onRevoked),
		kgo.OnPartitionsLost(onLost),
	)
	if err != nil {
		return fmt.Errorf("kafka: failed to create client: %w", err)
	}
	defer client.Close()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(loop.fetchRecords(client))
	p.Go(loop.run)

	return p.Wait()
}

func messageFromRecord(record *kgo.Record) Message {
	headers := make([]Header, len(record.Headers))
	for i, hdr := range record.Headers {
		headers[i] = Header{
			Key:   hdr.Key,
			Value: hdr.Value,
		}
	}

	return Message{
		Key:       record.Key,
		Value:     record.Value,
		Headers:   headers,
		Timestamp: record.Timestamp,
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
	}
}
