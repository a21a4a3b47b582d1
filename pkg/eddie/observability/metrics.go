package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records hub metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTransition records a committed lifecycle transition.
	RecordTransition(ctx context.Context, from, to string)

	// RecordCommit records an event log commit with its duration and
	// error status.
	RecordCommit(ctx context.Context, duration time.Duration, err error)

	// RecordDelivery records a bus delivery to one subscriber.
	RecordDelivery(ctx context.Context, subscriber string, err error)

	// RecordSweep records a sweeper pass and the number of corrective
	// transitions it applied.
	RecordSweep(ctx context.Context, corrected int)

	// RecordHubMessage records a message forwarded on a family stream.
	RecordHubMessage(ctx context.Context, family, providerID string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	transitions   metric.Int64Counter
	commits       metric.Int64Counter
	commitLatency metric.Float64Histogram
	commitErrors  metric.Int64Counter
	deliveries    metric.Int64Counter
	deliveryFails metric.Int64Counter
	sweeps        metric.Int64Counter
	corrections   metric.Int64Counter
	hubMessages   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eddie")

	transitions, err := meter.Int64Counter("eddie.permission.transitions",
		metric.WithDescription("Number of committed lifecycle transitions"),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter("eddie.outbox.commits",
		metric.WithDescription("Number of event log commits"),
	)
	if err != nil {
		return nil, err
	}

	commitLatency, err := meter.Float64Histogram("eddie.outbox.commit_latency_ms",
		metric.WithDescription("Event log commit latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	commitErrors, err := meter.Int64Counter("eddie.outbox.commit_errors",
		metric.WithDescription("Number of failed event log commits"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("eddie.bus.deliveries",
		metric.WithDescription("Number of bus deliveries to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	deliveryFails, err := meter.Int64Counter("eddie.bus.delivery_failures",
		metric.WithDescription("Number of failed bus deliveries"),
	)
	if err != nil {
		return nil, err
	}

	sweeps, err := meter.Int64Counter("eddie.sweep.passes",
		metric.WithDescription("Number of sweeper passes"),
	)
	if err != nil {
		return nil, err
	}

	corrections, err := meter.Int64Counter("eddie.sweep.corrections",
		metric.WithDescription("Number of corrective transitions applied"),
	)
	if err != nil {
		return nil, err
	}

	hubMessages, err := meter.Int64Counter("eddie.hub.messages",
		metric.WithDescription("Number of messages forwarded on family streams"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		transitions:   transitions,
		commits:       commits,
		commitLatency: commitLatency,
		commitErrors:  commitErrors,
		deliveries:    deliveries,
		deliveryFails: deliveryFails,
		sweeps:        sweeps,
		corrections:   corrections,
		hubMessages:   hubMessages,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTransition records a committed lifecycle transition.
func (m *otelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCommit records an event log commit.
func (m *otelMetrics) RecordCommit(ctx context.Context, duration time.Duration, err error) {
	m.commits.Add(ctx, 1)
	m.commitLatency.Record(ctx, float64(duration.Milliseconds()))
	if err != nil {
		m.commitErrors.Add(ctx, 1)
	}
}

// RecordDelivery records a bus delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, subscriber string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("subscriber", subscriber),
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.deliveryFails.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordSweep records a sweeper pass.
func (m *otelMetrics) RecordSweep(ctx context.Context, corrected int) {
	m.sweeps.Add(ctx, 1)
	if corrected > 0 {
		m.corrections.Add(ctx, int64(corrected))
	}
}

// RecordHubMessage records a forwarded family-stream message.
func (m *otelMetrics) RecordHubMessage(ctx context.Context, family, providerID string) {
	m.hubMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("provider_id", providerID),
	))
}
