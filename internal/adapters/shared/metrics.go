package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records per-venue request telemetry. Instruments are created
// against the globally installed meter provider, so a noop provider makes
// every call free.
type Metrics struct {
	exchange string

	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewMetrics builds the instrument set for one venue.
func NewMetrics(exchange string) *Metrics {
	meter := otel.Meter("exsync.adapter")
	m := &Metrics{exchange: exchange}

	m.requests, _ = meter.Int64Counter("exsync_adapter_requests",
		metric.WithDescription("Signed REST requests issued by exchange adapters"),
		metric.WithUnit("{request}"))

	m.failures, _ = meter.Int64Counter("exsync_adapter_request_failures",
		metric.WithDescription("Failed REST requests by exchange adapters"),
		metric.WithUnit("{request}"))

	m.latency, _ = meter.Float64Histogram("exsync_adapter_request_latency",
		metric.WithDescription("REST request latency per exchange and operation"),
		metric.WithUnit("ms"))

	return m
}

// Record registers one completed request attempt.
func (m *Metrics) Record(ctx context.Context, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("exchange", m.exchange),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if outcome != "ok" && m.failures != nil {
		m.failures.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}
