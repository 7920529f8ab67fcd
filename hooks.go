package hooks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	statusRunning int32 = iota
	statusClosing
	statusClosed
)

// Reserved event names
const (
	// EventAlways listeners run on every DoEvent call, whatever the event name.
	EventAlways = "always"
	// EventDestruct listeners run once when the registry is closed.
	EventDestruct = "destruct"
)

// StatusCode represents the health state of the registry
type StatusCode string

const (
	// StatusHealthy indicates the registry accepts dispatches
	StatusHealthy StatusCode = "healthy"
	// StatusUnhealthy indicates the registry is closing or closed
	StatusUnhealthy StatusCode = "unhealthy"
)

// Status contains status information for the registry
type Status struct {
	Code              StatusCode `json:"status" msgpack:"status"`
	Message           string     `json:"message,omitempty" msgpack:"message,omitempty"`
	Registry          string     `json:"registry" msgpack:"registry"`
	ID                string     `json:"id" msgpack:"id"`
	Events            int        `json:"events" msgpack:"events"`
	EventSubscribers  int        `json:"event_subscribers" msgpack:"event_subscribers"`
	Filters           int        `json:"filters" msgpack:"filters"`
	FilterSubscribers int        `json:"filter_subscribers" msgpack:"filter_subscribers"`
	CheckedAt         time.Time  `json:"checked_at" msgpack:"checked_at"`
}

// IsHealthy returns true if the status code is healthy
func (s *Status) IsHealthy() bool {
	return s.Code == StatusHealthy
}

// Hooks is a registry of named events and filters.
// All methods are safe for concurrent use; dispatch runs on the caller's goroutine.
type Hooks struct {
	status          int32
	id              string
	name            string
	logger          *slog.Logger
	tracer          trace.Tracer
	metrics         *metrics
	monitor         MonitorStore
	monitorWarn     rate.Sometimes
	tracingEnabled  bool
	recoveryEnabled bool
	events          *table[Listener]
	filters         *table[Filter]
}

// New creates a new registry.
// The caller owns its lifetime and should call Close once done so "destruct"
// listeners run:
//
//	h := hooks.New("app")
//	defer h.Close(ctx)
func New(name string, opts ...Option) *Hooks {
	o := newOptions(opts...)

	if name == "" {
		name = DefaultName
	}

	h := &Hooks{
		status:          statusRunning,
		id:              NewID(),
		name:            name,
		logger:          o.logger.With("component", "hooks>"+name),
		tracer:          o.tracerProvider.Tracer(name),
		monitor:         o.monitor,
		monitorWarn:     rate.Sometimes{First: 1, Interval: monitorWarnInterval},
		tracingEnabled:  o.tracingEnabled,
		recoveryEnabled: o.recoveryEnabled,
		events:          newTable[Listener](),
		filters:         newTable[Filter](),
	}
	if o.metricsEnabled {
		h.metrics = newMetrics(o.meterProvider, name)
	}
	return h
}

// ID returns the registry ID
func (h *Hooks) ID() string {
	return h.id
}

// Name returns the registry name
func (h *Hooks) Name() string {
	return h.name
}

// Running returns true until Close is called
func (h *Hooks) Running() bool {
	return atomic.LoadInt32(&h.status) == statusRunning
}

// Logger returns the registry logger
func (h *Hooks) Logger() *slog.Logger {
	return h.logger
}

// Close dispatches the "destruct" event and stops the registry.
// Only the first call dispatches; later and re-entrant calls (for example from a
// destruct listener) return nil. The returned error is the destruct dispatch error.
// After Close starts, DoEvent and DoFilter return ErrClosed.
func (h *Hooks) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.status, statusRunning, statusClosing) {
		return nil
	}
	err := h.doEvent(ctx, EventDestruct, nil)
	atomic.StoreInt32(&h.status, statusClosed)
	if err != nil {
		h.logger.Warn("destruct listener failed", "error", err)
	} else {
		h.logger.Debug("closed")
	}
	return err
}

// Status returns status information about the registry
func (h *Hooks) Status() *Status {
	events, eventSubs := h.events.counts()
	filters, filterSubs := h.filters.counts()
	result := &Status{
		Registry:          h.name,
		ID:                h.id,
		Events:            events,
		EventSubscribers:  eventSubs,
		Filters:           filters,
		FilterSubscribers: filterSubs,
		CheckedAt:         time.Now(),
	}
	if h.Running() {
		result.Code = StatusHealthy
		result.Message = "registry is running"
	} else {
		result.Code = StatusUnhealthy
		result.Message = "registry is closed"
	}
	return result
}

// Health returns nil if the registry is running, ErrClosed otherwise
func (h *Hooks) Health() error {
	if !h.Running() {
		return ErrClosed
	}
	return nil
}
