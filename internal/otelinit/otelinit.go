// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelinit wires the global OpenTelemetry providers. Telemetry
// is exported over a single OTLP gRPC connection; without a target the
// service stays observable through stdout logging alone.
package otelinit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects where telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Target is the OTLP gRPC endpoint. Empty disables export: spans
	// and metrics are dropped, logs fall back to stdout JSON.
	Target string
}

// ShutdownFunc flushes and tears down the providers installed by
// [Initialize].
type ShutdownFunc func(context.Context) error

// Initialize installs the global tracer, meter and logger providers.
func Initialize(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	r := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	var (
		err         error
		cc          *grpc.ClientConn
		spanExp     sdktrace.SpanExporter = noopSpanExporter{}
		metricExp   sdkmetric.Exporter    = noopMetricExporter{}
		logExp      sdklog.Exporter
		shutdownCon = func(context.Context) error { return nil }
	)
	if cfg.Target != "" {
		cc, err = grpc.NewClient(
			cfg.Target,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, err
		}
		shutdownCon = func(context.Context) error { return cc.Close() }

		spanExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(cc))
		if err != nil {
			return nil, err
		}
		metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(cc))
		if err != nil {
			return nil, err
		}
		logExp, err = otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(cc))
		if err != nil {
			return nil, err
		}
	} else {
		logExp = &slogExporter{
			handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}),
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExp,
			sdkmetric.WithProducer(runtime.NewProducer()),
		)),
		sdkmetric.WithResource(r),
	)
	otel.SetMeterProvider(mp)

	err = runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second))
	if err != nil {
		return nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(r),
	)
	global.SetLoggerProvider(lp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
			shutdownCon(ctx),
		)
	}
	return shutdown, nil
}
