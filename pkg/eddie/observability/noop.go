package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordTransition does nothing.
func (NoopMetrics) RecordTransition(_ context.Context, _, _ string) {}

// RecordCommit does nothing.
func (NoopMetrics) RecordCommit(_ context.Context, _ time.Duration, _ error) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _ string, _ error) {}

// RecordSweep does nothing.
func (NoopMetrics) RecordSweep(_ context.Context, _ int) {}

// RecordHubMessage does nothing.
func (NoopMetrics) RecordHubMessage(_ context.Context, _, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartCommitSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartCommitSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartRoutingSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRoutingSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
