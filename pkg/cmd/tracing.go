package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/nurture/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled, a no-op tracer otherwise.
// The returned func flushes pending spans and never fails.
func NewTracer(ctx context.Context, enabled bool, serviceName string, logger *slog.Logger) (trace.Tracer, func(context.Context), error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) {}, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return tracer, func(ctx context.Context) {
		if err := shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}, nil
}
