package hooks

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbaliyan/hooks"

// metrics holds the dispatch instruments of a registry.
// A nil *metrics records nothing.
type metrics struct {
	dispatched metric.Int64Counter
	invoked    metric.Int64Counter
	failed     metric.Int64Counter
	duration   metric.Float64Histogram
}

// newMetrics creates the registry instruments.
// Instrument creation errors leave the noop instrument returned by the meter in place.
func newMetrics(mp metric.MeterProvider, registry string) *metrics {
	meter := mp.Meter(meterName, metric.WithInstrumentationAttributes(attribute.String(spanKeyRegistry, registry)))
	dispatched, _ := meter.Int64Counter("hooks.dispatched",
		metric.WithDescription("Total number of event and filter dispatches"))
	invoked, _ := meter.Int64Counter("hooks.invoked",
		metric.WithDescription("Total number of subscriber invocations"))
	failed, _ := meter.Int64Counter("hooks.failed",
		metric.WithDescription("Total number of subscriber invocations that returned an error or panicked"))
	duration, _ := meter.Float64Histogram("hooks.duration",
		metric.WithDescription("Subscriber invocation duration"),
		metric.WithUnit("ms"))
	return &metrics{
		dispatched: dispatched,
		invoked:    invoked,
		failed:     failed,
		duration:   duration,
	}
}

// Dispatched a dispatch started
func (m *metrics) Dispatched(ctx context.Context, kind Kind, name string) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String(spanKeyHookKind, string(kind)),
		attribute.String(spanKeyHookName, name)))
}

// Invoked a subscriber returned
func (m *metrics) Invoked(ctx context.Context, kind Kind, name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(spanKeyHookKind, string(kind)),
		attribute.String(spanKeyHookName, name))
	m.invoked.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
	}
}
