// Package telemetry provides a small opt-in wrapper around OpenTelemetry
// span creation for the pipeline coordinator's per-stage instrumentation.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpanWithTracer starts a child span named name under tracer, but only
// if ctx already carries a valid span context. A caller with no active
// trace — a bare context.Background(), a test, a process with no exporter
// configured — pays no span-creation cost: ctx is returned unchanged and
// the returned end function is a no-op.
//
// The returned end function records err (if non-nil) on the span and ends
// it. It is safe to call with a nil error.
func StartSpanWithTracer(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span, func(error)) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return ctx, trace.SpanFromContext(ctx), func(error) {}
	}
	spanCtx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return spanCtx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
