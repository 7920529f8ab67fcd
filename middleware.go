package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// monitorWarnInterval bounds how often a failing MonitorStore is logged
const monitorWarnInterval = 10 * time.Second

// errPanicking is recorded for a subscriber whose panic propagates to the caller
var errPanicking = errors.New("subscriber panicked")

// DispatchRecord describes one subscriber invocation handed to a MonitorStore.
type DispatchRecord struct {
	DispatchID   string
	SubscriberID string
	Name         string
	Kind         Kind
	Priority     int
	RegistryID   string
	TraceID      string
	SpanID       string
}

// MonitorStore receives subscriber invocation records.
// Writes are best effort: a failing store is logged (at most once per
// 10 seconds) and never fails a dispatch.
// The monitor package provides an in-memory implementation.
type MonitorStore interface {
	// RecordStart is called right before a subscriber runs.
	RecordStart(ctx context.Context, rec DispatchRecord) error
	// RecordComplete is called after the subscriber returned (or panicked).
	RecordComplete(ctx context.Context, dispatchID, subscriberID string, err error, duration time.Duration) error
}

// startDispatch sets up context, span and metrics for one DoEvent/DoFilter call.
// The returned end function must be called with the dispatch result.
func (h *Hooks) startDispatch(ctx context.Context, kind Kind, name string) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	dispatchID := NewID()
	ctx = contextWithDispatch(ctx, h, kind, name, dispatchID)
	h.metrics.Dispatched(ctx, kind, name)

	if !h.tracingEnabled {
		return ctx, func(error) {}
	}
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("%s.%s", name, kind),
		trace.WithAttributes(
			attribute.String(spanKeyHookName, name),
			attribute.String(spanKeyHookKind, string(kind)),
			attribute.String(spanKeyRegistry, h.name),
			attribute.String(spanKeyDispatchID, dispatchID)),
		trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// invoke runs a single subscriber call with tracing, monitoring, metrics and
// optional panic recovery around it.
func (h *Hooks) invoke(ctx context.Context, kind Kind, name, subscriberID string, priority int, fn func(context.Context) error) error {
	ctx = contextWithSubscriber(ctx, subscriberID)

	var span trace.Span
	if h.tracingEnabled {
		ctx, span = h.tracer.Start(ctx, fmt.Sprintf("%s.%s.subscriber", name, kind),
			trace.WithAttributes(
				attribute.String(spanKeySubscriberID, subscriberID),
				attribute.Int(spanKeyPriority, priority)),
			trace.WithSpanKind(trace.SpanKindInternal))
	}

	dispatchID := ContextDispatchID(ctx)
	if h.monitor != nil {
		rec := DispatchRecord{
			DispatchID:   dispatchID,
			SubscriberID: subscriberID,
			Name:         name,
			Kind:         kind,
			Priority:     priority,
			RegistryID:   h.id,
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			rec.TraceID = sc.TraceID().String()
			rec.SpanID = sc.SpanID().String()
		}
		if err := h.monitor.RecordStart(ctx, rec); err != nil {
			h.monitorWarn.Do(func() {
				h.logger.Warn("monitor record failed", "hook", name, "error", err)
			})
		}
	}

	start := time.Now()
	finished := false
	finish := func(err error) {
		finished = true
		duration := time.Since(start)
		h.metrics.Invoked(ctx, kind, name, duration, err)
		if h.monitor != nil {
			if mErr := h.monitor.RecordComplete(ctx, dispatchID, subscriberID, err, duration); mErr != nil {
				h.monitorWarn.Do(func() {
					h.logger.Warn("monitor update failed", "hook", name, "error", mErr)
				})
			}
		}
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}
	// Panics that are not recovered still close the span and the monitor entry.
	defer func() {
		if !finished {
			finish(errPanicking)
		}
	}()

	err := h.call(ctx, name, subscriberID, fn)
	finish(err)
	return err
}

// call invokes fn, converting a panic into *PanicError when recovery is enabled
func (h *Hooks) call(ctx context.Context, name, subscriberID string, fn func(context.Context) error) (err error) {
	if h.recoveryEnabled {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{
					Name:         name,
					SubscriberID: subscriberID,
					Value:        r,
					Stack:        debug.Stack(),
				}
				h.logger.Error("subscriber panic recovered",
					"hook", name,
					"subscriber", subscriberID,
					"panic", r)
			}
		}()
	}
	return fn(ctx)
}
