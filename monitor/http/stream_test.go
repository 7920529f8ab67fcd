package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/hooks"
	"github.com/rbaliyan/hooks/monitor"
	"github.com/rbaliyan/hooks/monitor/stream"
)

func TestHandlerStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := monitor.NewMemoryStore()
	defer store.Close()

	b := stream.NewBroadcaster(store, 10*time.Millisecond)
	b.Start(ctx)
	defer b.Stop()

	reg := hooks.New("stream", hooks.WithMonitor(store))
	reg.AddEvent("order.created", func(ctx context.Context, args ...any) error { return nil })
	reg.AddEvent("order.shipped", func(ctx context.Context, args ...any) error { return nil })

	srv := httptest.NewServer(New(reg, store, WithStream(b)))
	defer srv.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/v1/monitor/stream?name=order.shipped", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// the subscription exists once headers are flushed
	_ = reg.DoEvent(ctx, "order.created")
	_ = reg.DoEvent(ctx, "order.shipped")

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != "entry" {
		t.Fatalf("expected entry event, got %q (scan error %v)", event, scanner.Err())
	}

	var entry monitor.Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		t.Fatalf("failed to unmarshal entry: %v", err)
	}
	if entry.Name != "order.shipped" || entry.Status != monitor.StatusCompleted {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestHandlerStreamErrors(t *testing.T) {
	store := monitor.NewMemoryStore()
	defer store.Close()

	t.Run("not configured", func(t *testing.T) {
		w := serve(New(nil, store), http.MethodGet, "/v1/monitor/stream", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	b := stream.NewBroadcaster(store, 0)
	defer b.Stop()
	h := New(nil, store, WithStream(b))

	t.Run("method", func(t *testing.T) {
		w := serve(h, http.MethodPost, "/v1/monitor/stream", "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})

	t.Run("bad query", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/v1/monitor/stream?status=retrying", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
		if b.Len() != 0 {
			t.Errorf("expected no subscriber left, got %d", b.Len())
		}
	})
}

func TestHandlerRateLimit(t *testing.T) {
	store := monitor.NewMemoryStore()
	defer store.Close()

	h := New(nil, store, WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		if w := serve(h, http.MethodGet, "/v1/monitor/entries/count", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := serve(h, http.MethodGet, "/v1/monitor/entries/count", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if resp.Error != "rate limit exceeded" {
		t.Errorf("unexpected error %q", resp.Error)
	}

	// disabled for non-positive values
	unlimited := New(nil, store, WithRateLimit(0, 0))
	for i := 0; i < 5; i++ {
		if w := serve(unlimited, http.MethodGet, "/v1/monitor/entries/count", ""); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}
