package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("eddie")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartCommitSpan starts a span covering commit, delivery, and
	// acknowledgement of one lifecycle event.
	StartCommitSpan(ctx context.Context, permissionID, status string) (context.Context, trace.Span)

	// StartRoutingSpan starts a span for routing an inbound command.
	StartRoutingSpan(ctx context.Context, command, target string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartCommitSpan starts a span for one lifecycle commit.
func (m *otelSpanManager) StartCommitSpan(ctx context.Context, permissionID, status string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eddie.commit",
		trace.WithAttributes(
			attribute.String("permission.id", permissionID),
			attribute.String("permission.status", status),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRoutingSpan starts a span for an inbound command.
func (m *otelSpanManager) StartRoutingSpan(ctx context.Context, command, target string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eddie.route."+command,
		trace.WithAttributes(
			attribute.String("command", command),
			attribute.String("target", target),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
