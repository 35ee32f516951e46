// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package orderservice provides shared helpers for the order service.
package orderservice

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a [slog.Logger] which is bridged to the globally
// configured OTel log provider. Records are exported alongside traces
// and metrics when the OTLP exporters are configured, and fall back to
// stdout otherwise.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}
