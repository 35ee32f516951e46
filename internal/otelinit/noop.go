// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelinit

import (
	"context"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type noopSpanExporter struct{}

// ExportSpans implements trace.SpanExporter.
func (noopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

// Shutdown implements trace.SpanExporter.
func (noopSpanExporter) Shutdown(context.Context) error {
	return nil
}

type noopMetricExporter struct{}

// Aggregation implements metric.Exporter.
func (noopMetricExporter) Aggregation(sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

// Export implements metric.Exporter.
func (noopMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error {
	return nil
}

// ForceFlush implements metric.Exporter.
func (noopMetricExporter) ForceFlush(context.Context) error {
	return nil
}

// Shutdown implements metric.Exporter.
func (noopMetricExporter) Shutdown(context.Context) error {
	return nil
}

// Temporality implements metric.Exporter.
func (noopMetricExporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return 0
}
