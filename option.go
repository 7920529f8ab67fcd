package hooks

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPriority is the priority used when WithPriority is not given.
const DefaultPriority = 5

// DefaultName is the registry name used when New is called with an empty name.
var DefaultName = "hooks"

// options holds configuration for a registry (unexported)
type options struct {
	logger          *slog.Logger
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
	monitor         MonitorStore
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
}

// Option option function for registry configuration
type Option func(*options)

// WithLogger sets a custom logger for the registry
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracing enables/disables tracing of dispatches
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables dispatch metrics
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithRecovery enables/disables panic recovery.
// A recovered panic is returned as *PanicError and still aborts the dispatch.
func WithRecovery(enabled bool) Option {
	return func(o *options) {
		o.recoveryEnabled = enabled
	}
}

// WithMonitor records every subscriber invocation in the given store.
func WithMonitor(store MonitorStore) Option {
	return func(o *options) {
		o.monitor = store
	}
}

// WithTracerProvider sets the tracer provider. Default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		logger:         slog.Default(),
		tracingEnabled: true,
		metricsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	return o
}

// subscribeOptions holds per-subscriber configuration
type subscribeOptions struct {
	priority int
	key      string
}

// SubscribeOption configures a single AddEvent/AddFilter call
type SubscribeOption func(*subscribeOptions)

// WithPriority sets the subscriber priority. Higher values run first.
func WithPriority(p int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.priority = p
	}
}

// WithKey gives the subscriber a stable key. Registering again with the same
// name and key replaces the subscriber, and RemoveEvent/RemoveFilter take the
// key to remove it.
func WithKey(key string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.key = key
	}
}

func newSubscribeOptions(opts ...SubscribeOption) *subscribeOptions {
	o := &subscribeOptions{priority: DefaultPriority}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
