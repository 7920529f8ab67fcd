package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	h := New("", WithTracing(false), WithMetrics(false))
	if h.Name() != DefaultName {
		t.Errorf("expected default name, got %q", h.Name())
	}
	if h.ID() == "" {
		t.Error("expected registry ID")
	}
	if !h.Running() || h.Health() != nil {
		t.Error("expected running registry")
	}
	if New("x").ID() == h.ID() {
		t.Error("expected unique IDs")
	}
}

func TestNewWithTelemetry(t *testing.T) {
	// global no-op providers
	h := New("telemetry")
	rec := NewRecorder()
	h.AddEvent("e", rec.Listener("l", nil))
	h.AddFilter("f", rec.Filter("f", nil))

	ctx := context.Background()
	if err := h.DoEvent(ctx, "e"); err != nil {
		t.Fatalf("DoEvent: %v", err)
	}
	if _, err := h.DoFilter(ctx, "f", 1); err != nil {
		t.Fatalf("DoFilter: %v", err)
	}
	if rec.Count() != 2 {
		t.Errorf("expected 2 calls, got %d", rec.Count())
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("fires destruct once", func(t *testing.T) {
		h := TestHooks()
		rec := NewRecorder()
		h.AddEvent(EventDestruct, rec.Listener("destruct", nil))
		h.AddEvent(EventAlways, rec.Listener("always", nil))

		if err := h.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := h.Close(ctx); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		if diff := cmp.Diff([]string{"always", "destruct"}, rec.Labels()); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]any(nil), rec.Last().Args); diff != "" {
			t.Errorf("destruct args mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("dispatch after close", func(t *testing.T) {
		h := TestHooks()
		rec := NewRecorder()
		h.AddEvent("e", rec.Listener("e", nil))
		h.AddFilter("f", rec.Filter("f", nil))
		_ = h.Close(ctx)

		if err := h.DoEvent(ctx, "e"); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		got, err := h.DoFilter(ctx, "f", "value")
		if !errors.Is(err, ErrClosed) || got != "value" {
			t.Errorf("expected (value, ErrClosed), got (%v, %v)", got, err)
		}
		if !errors.Is(h.Health(), ErrClosed) {
			t.Error("expected unhealthy registry")
		}
		if rec.Count() != 0 {
			t.Error("expected no calls after close")
		}
	})

	t.Run("destruct error is returned", func(t *testing.T) {
		h := TestHooks()
		boom := errors.New("cleanup failed")
		h.AddEvent(EventDestruct, func(ctx context.Context, args ...any) error { return boom })
		if err := h.Close(ctx); !errors.Is(err, boom) {
			t.Errorf("expected cleanup error, got %v", err)
		}
		if h.Running() {
			t.Error("expected closed registry")
		}
	})

	t.Run("re-entrant close", func(t *testing.T) {
		h := TestHooks()
		var calls, inner atomic.Int32
		h.AddEvent(EventDestruct, func(ctx context.Context, args ...any) error {
			calls.Add(1)
			if err := h.Close(ctx); err != nil {
				return err
			}
			if err := h.DoEvent(ctx, "other"); errors.Is(err, ErrClosed) {
				inner.Add(1)
			}
			return nil
		})
		if err := h.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected one destruct call, got %d", calls.Load())
		}
		if inner.Load() != 1 {
			t.Error("expected DoEvent during close to return ErrClosed")
		}
	})

	t.Run("registration after close", func(t *testing.T) {
		h := TestHooks()
		_ = h.Close(ctx)
		h.AddEvent("late", noopListener)
		if !h.HasEvent("late") {
			t.Error("expected registration to succeed after close")
		}
	})
}

func TestStatus(t *testing.T) {
	h := TestHooks()
	h.AddEvent("a", noopListener)
	h.AddEvent("a", noopListener)
	h.AddEvent("b", noopListener)
	h.AddFilter("f", appendFilter("x"))

	s := h.Status()
	if !s.IsHealthy() {
		t.Errorf("expected healthy, got %s", s.Code)
	}
	want := Status{
		Code:              StatusHealthy,
		Registry:          "test-hooks",
		ID:                h.ID(),
		Events:            2,
		EventSubscribers:  3,
		Filters:           1,
		FilterSubscribers: 1,
	}
	got := *s
	got.Message = ""
	got.CheckedAt = time.Time{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	_ = h.Close(context.Background())
	if h.Status().IsHealthy() {
		t.Error("expected unhealthy after close")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := TestHooks(WithLogger(logger))
	h.AddEvent("user.created", noopListener, WithKey("mail"))

	out := buf.String()
	for _, want := range []string{"component=hooks>test-hooks", "event=user.created", "added event subscriber"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output %q", want, out)
		}
	}

	var quiet bytes.Buffer
	info := TestHooks(WithLogger(slog.New(slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelInfo}))))
	info.AddEvent("user.created", noopListener)
	info.AddFilter("title", func(ctx context.Context, v any) (any, error) { return v, nil })
	if quiet.Len() != 0 {
		t.Errorf("expected no registration logs above debug, got %q", quiet.String())
	}
	if !strings.Contains(out, "caller=") {
		t.Errorf("expected caller in debug output %q", out)
	}

	if TestHooks(WithLogger(nil)).Logger() == nil {
		t.Error("expected default logger for nil")
	}
}

func TestDefault(t *testing.T) {
	first := Default()
	if first == nil || first != Default() {
		t.Fatal("expected a stable default registry")
	}

	custom := TestHooks()
	prev := SetDefault(custom)
	defer SetDefault(prev)

	if prev != first {
		t.Error("expected previous default to be returned")
	}
	if Default() != custom {
		t.Error("expected custom default")
	}
}

func TestSubscriberID(t *testing.T) {
	if SubscriberID("a", "k") != SubscriberID("a", "k") {
		t.Error("expected deterministic ID for keyed subscriber")
	}
	if SubscriberID("a", "k") == SubscriberID("b", "k") {
		t.Error("expected name to scope the key")
	}
	if SubscriberID("a", "") == SubscriberID("a", "") {
		t.Error("expected random IDs for anonymous subscribers")
	}
}

func TestHookError(t *testing.T) {
	cause := errors.New("cause")
	err := NewHookError("order", cause)
	if err.Error() != `hook "order": cause` {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) || !errors.Is(err, ErrHook) {
		t.Error("expected error chain to match cause and ErrHook")
	}
	if NewHookError("order", nil).Error() != `hook "order" failed` {
		t.Error("unexpected message without cause")
	}
	if IsHookError(cause) {
		t.Error("plain error is not a hook error")
	}
}

type failingMonitor struct {
	starts, completes atomic.Int32
}

func (m *failingMonitor) RecordStart(ctx context.Context, rec DispatchRecord) error {
	m.starts.Add(1)
	return errors.New("store down")
}

func (m *failingMonitor) RecordComplete(ctx context.Context, dispatchID, subscriberID string, err error, d time.Duration) error {
	m.completes.Add(1)
	return errors.New("store down")
}

func TestMonitorFailureIsIgnored(t *testing.T) {
	m := &failingMonitor{}
	h := TestHooks(WithMonitor(m))
	h.AddEvent("e", noopListener)
	h.AddEvent("e", noopListener)

	if err := h.DoEvent(context.Background(), "e"); err != nil {
		t.Fatalf("expected monitor errors to be ignored, got %v", err)
	}
	if m.starts.Load() != 2 || m.completes.Load() != 2 {
		t.Errorf("expected 2 starts and completes, got %d/%d", m.starts.Load(), m.completes.Load())
	}
}

func TestMonitorFailureLogThrottled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := New("throttled", WithLogger(logger), WithMonitor(&failingMonitor{}))
	h.AddEvent("e", noopListener)

	for i := 0; i < 5; i++ {
		if err := h.DoEvent(context.Background(), "e"); err != nil {
			t.Fatalf("DoEvent failed: %v", err)
		}
	}
	if n := strings.Count(buf.String(), "monitor record failed") + strings.Count(buf.String(), "monitor update failed"); n != 1 {
		t.Errorf("expected one monitor warning, got %d:\n%s", n, buf.String())
	}
}

func TestMonitorRecordsPanic(t *testing.T) {
	m := &failingMonitor{}
	h := TestHooks(WithMonitor(m))
	h.AddEvent("e", func(ctx context.Context, args ...any) error { panic("x") })

	func() {
		defer func() { _ = recover() }()
		_ = h.DoEvent(context.Background(), "e")
	}()
	if m.completes.Load() != 1 {
		t.Error("expected completion to be recorded for a panicking subscriber")
	}
}
