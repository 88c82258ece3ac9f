// Tracing instrumentation for the admission pipeline.
package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startSpan starts a span covering one admission request.
func (p *Pipeline) startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	tracer := otel.Tracer("adminmcp/pipeline")
	ctx, span := tracer.Start(ctx, "admission.execute")
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.mode", string(req.Mode)),
		attribute.Int64("request.timeout_ms", req.Timeout.Milliseconds()),
	)
	return ctx, span
}

// endSpan ends the request span with outcome info.
func endSpan(span trace.Span, res Result) {
	span.SetAttributes(attribute.String("request.status", string(res.Status)))
	if res.ExitCode != nil {
		span.SetAttributes(attribute.Int("request.exit_code", *res.ExitCode))
	}
	if res.Reason != "" {
		span.SetAttributes(attribute.String("request.reason", res.Reason))
	}
	span.End()
}
