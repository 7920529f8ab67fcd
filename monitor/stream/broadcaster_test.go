package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/hooks"
	"github.com/rbaliyan/hooks/monitor"
)

func receive(t *testing.T, sub *Subscriber) *monitor.Entry {
	t.Helper()
	select {
	case entry := <-sub.Entries():
		return entry
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entry")
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscriber, wait time.Duration) {
	t.Helper()
	select {
	case entry := <-sub.Entries():
		t.Fatalf("unexpected entry %s/%s", entry.Name, entry.Status)
	case <-time.After(wait):
	}
}

func TestBroadcaster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := monitor.NewMemoryStore()
	defer store.Close()

	h := hooks.New("stream", hooks.WithMonitor(store))
	h.AddEvent("order.created", func(ctx context.Context, args ...any) error { return nil })
	h.AddEvent("order.failed", func(ctx context.Context, args ...any) error { return errors.New("boom") })

	b := NewBroadcaster(store, 10*time.Millisecond)
	b.Start(ctx)
	defer b.Stop()

	all := b.Subscribe(monitor.Filter{})
	failed := b.Subscribe(monitor.Filter{Status: []monitor.Status{monitor.StatusFailed}})

	_ = h.DoEvent(ctx, "order.created")
	_ = h.DoEvent(ctx, "order.failed")

	first := receive(t, all)
	second := receive(t, all)
	if first.Name != "order.created" || second.Name != "order.failed" {
		t.Errorf("unexpected order %s, %s", first.Name, second.Name)
	}

	entry := receive(t, failed)
	if entry.Name != "order.failed" || entry.Error != "boom" {
		t.Errorf("unexpected failed entry %+v", entry)
	}

	// entries are delivered once
	expectNothing(t, all, 50*time.Millisecond)
	expectNothing(t, failed, 0)
}

func TestBroadcasterSkipsHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := monitor.NewMemoryStore()
	defer store.Close()

	completed := time.Now()
	store.Record(ctx, &monitor.Entry{
		DispatchID:   "old",
		SubscriberID: "s1",
		Status:       monitor.StatusCompleted,
		StartedAt:    time.Now().Add(-time.Second),
		CompletedAt:  &completed,
	})

	b := NewBroadcaster(store, 10*time.Millisecond)
	b.Start(ctx)
	defer b.Stop()

	sub := b.Subscribe(monitor.Filter{})
	expectNothing(t, sub, 50*time.Millisecond)
}

func TestBroadcasterSubscribers(t *testing.T) {
	b := NewBroadcaster(monitor.NewMemoryStore(), 0)
	if b.pollInterval != DefaultPollInterval {
		t.Errorf("expected default poll interval, got %v", b.pollInterval)
	}

	sub1 := b.Subscribe(monitor.Filter{})
	sub2 := b.Subscribe(monitor.Filter{})
	if sub1.ID() == sub2.ID() {
		t.Error("expected unique subscriber IDs")
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Len())
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub1)
	b.Unsubscribe(nil)
	select {
	case <-sub1.Done():
	default:
		t.Error("expected unsubscribed subscriber to be closed")
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.Len())
	}

	// Stop without Start closes remaining subscribers and may repeat
	b.Stop()
	b.Stop()
	select {
	case <-sub2.Done():
	default:
		t.Error("expected subscriber to be closed by Stop")
	}
}
