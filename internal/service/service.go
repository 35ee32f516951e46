// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package service assembles the order service from its parts: the
// ingest and dead-letter Kafka consumers, the read API and the
// infrastructure clients they share.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mouts-info/orderservice/app"
	"github.com/mouts-info/orderservice/config"
	"github.com/mouts-info/orderservice/dlt"
	"github.com/mouts-info/orderservice/event"
	"github.com/mouts-info/orderservice/health"
	"github.com/mouts-info/orderservice/idempotency"
	"github.com/mouts-info/orderservice/ingest"
	"github.com/mouts-info/orderservice/internal/otelinit"
	"github.com/mouts-info/orderservice/order"
	"github.com/mouts-info/orderservice/postgres"
	"github.com/mouts-info/orderservice/queue"
	"github.com/mouts-info/orderservice/queue/kafka"
	"github.com/mouts-info/orderservice/rest"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "orderservice"
	serviceVersion = "0.1.0"
)

const healthCheckTimeout = 5 * time.Second

// Init builds the service runtime, registering cleanup hooks for every
// client it opens. It is meant to be passed to [app.WithHooks].
func Init(ctx context.Context, hooks *app.HookRegistry) (app.Runtime, error) {
	otlpTarget := config.MustOr(ctx, "", config.Env("OTLP_TARGET"))
	shutdownOtel, err := otelinit.Initialize(ctx, otelinit.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Target:         otlpTarget,
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to initialize telemetry: %w", err)
	}
	hooks.OnPostRun(func(ctx context.Context) error {
		return shutdownOtel(ctx)
	})

	postgresURL, err := config.Read(ctx, config.Env("POSTGRES_URL"))
	if err != nil {
		return nil, fmt.Errorf("service: POSTGRES_URL is required: %w", err)
	}
	redisAddr, err := config.Read(ctx, config.Env("REDIS_ADDR"))
	if err != nil {
		return nil, fmt.Errorf("service: REDIS_ADDR is required: %w", err)
	}

	receivedTopic := config.MustOr(ctx, "orders.received", config.Env("ORDERS_RECEIVED_TOPIC"))
	dltTopic := config.MustOr(ctx, "orders.dlt", config.Env("ORDERS_DLT_TOPIC"))
	processedTopic := config.MustOr(ctx, "orders.processed", config.Env("ORDERS_PROCESSED_TOPIC"))
	httpAddr := config.MustOr(ctx, ":8080", config.Env("HTTP_ADDR"))

	store, err := postgres.NewStore(ctx, postgresURL)
	if err != nil {
		return nil, err
	}
	hooks.OnPostRun(func(ctx context.Context) error {
		store.Close()
		return nil
	})

	err = store.EnsureSchema(ctx)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	hooks.OnPostRun(func(ctx context.Context) error {
		return rdb.Close()
	})

	gate := idempotency.NewGate(
		rdb,
		idempotency.ProcessingTTL(config.MustOr(ctx, idempotency.DefaultProcessingTTL, config.DurationEnv("IDEMPOTENCY_PROCESSING_TTL"))),
		idempotency.ProcessedTTL(config.MustOr(ctx, idempotency.DefaultProcessedTTL, config.DurationEnv("IDEMPOTENCY_PROCESSED_TTL"))),
	)

	brokers, err := config.Read(ctx, kafka.BrokersFromEnv())
	if err != nil {
		return nil, fmt.Errorf("service: KAFKA_BROKERS is required: %w", err)
	}
	groupID, err := config.Read(ctx, kafka.GroupIDFromEnv())
	if err != nil {
		return nil, fmt.Errorf("service: KAFKA_GROUP_ID is required: %w", err)
	}

	publisher, err := kafka.NewPublisher(brokers)
	if err != nil {
		return nil, err
	}
	hooks.OnPostRun(func(ctx context.Context) error {
		return publisher.Close(ctx)
	})

	handler := ingest.NewHandler(ingest.HandlerConfig{
		Gate:       gate,
		Processor:  order.NewProcessor(store),
		Publisher:  event.NewPublisher(publisher, processedTopic),
		DeadLetter: publisher,
		DLTTopic:   dltTopic,
		Retry:      retryPolicy(ctx),
	})

	ingestRt, err := kafka.Build(
		kafka.Config{
			Brokers:       config.ReaderOf(brokers),
			GroupID:       config.ReaderOf(groupID),
			FetchMaxBytes: kafka.FetchMaxBytesFromEnv(),
		},
		[]kafka.TopicProcessor{
			{Topic: receivedTopic, Processor: handler},
		},
	).Build(ctx)
	if err != nil {
		return nil, err
	}

	// The reconciler consumes under its own group so draining dead
	// letters never stalls behind inbound order traffic.
	dltRt, err := kafka.Build(
		kafka.Config{
			Brokers: config.ReaderOf(brokers),
			GroupID: config.ReaderOf(groupID + "-dlt"),
		},
		[]kafka.TopicProcessor{
			{Topic: dltTopic, Processor: dlt.NewReconciler(store)},
		},
	).Build(ctx)
	if err != nil {
		return nil, err
	}

	var liveness health.Binary
	readiness := health.And(
		health.Ping(store, healthCheckTimeout),
		health.Ping(redisPinger{rdb}, healthCheckTimeout),
	)
	server := rest.NewServer(httpAddr, rest.NewHandler(store, &liveness, readiness))

	return app.RuntimeFunc(func(ctx context.Context) error {
		liveness.MarkHealthy()
		defer liveness.MarkUnhealthy()

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return ingestRt.ProcessQueue(egCtx)
		})
		eg.Go(func() error {
			return dltRt.ProcessQueue(egCtx)
		})
		eg.Go(func() error {
			return server.Run(egCtx)
		})
		return eg.Wait()
	}), nil
}

func retryPolicy(ctx context.Context) queue.RetryPolicy {
	policy := queue.DefaultRetryPolicy()
	policy.MaxAttempts = config.MustOr(ctx, policy.MaxAttempts, config.IntEnv("RETRY_MAX_ATTEMPTS"))
	policy.InitialInterval = config.MustOr(ctx, policy.InitialInterval, config.DurationEnv("RETRY_INITIAL_INTERVAL"))
	policy.Multiplier = config.MustOr(ctx, policy.Multiplier, config.Float64Env("RETRY_MULTIPLIER"))
	policy.MaxInterval = config.MustOr(ctx, policy.MaxInterval, config.DurationEnv("RETRY_MAX_INTERVAL"))
	return policy
}

// redisPinger adapts [redis.Client] to [health.Pinger].
type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
