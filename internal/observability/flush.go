package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit: pending trace spans
// (when an SDK tracer provider is installed) and then logs. Prometheus is pull-based and
// needs no flush. Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	var errs []error
	if fp, ok := otel.GetTracerProvider().(interface{ ForceFlush(context.Context) error }); ok {
		if err := fp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
