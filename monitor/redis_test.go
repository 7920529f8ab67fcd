package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/hooks"
)

func newRedisStore(t *testing.T, opts ...StoreOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, opts...), mr
}

func dispatchIDs(entries []*Entry) []string {
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.DispatchID)
	}
	return ids
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Record and Get", func(t *testing.T) {
		store, _ := newRedisStore(t)

		completed := time.Now().Add(time.Second)
		entry := &Entry{
			DispatchID:   "dispatch-1",
			SubscriberID: "sub-1",
			Name:         "order.created",
			Kind:         hooks.KindEvent,
			Priority:     7,
			RegistryID:   "registry-1",
			Status:       StatusFailed,
			Error:        "boom",
			StartedAt:    time.Now(),
			CompletedAt:  &completed,
			Duration:     time.Second,
			TraceID:      "trace",
		}
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		got, err := store.Get(ctx, "dispatch-1", "sub-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if diff := cmp.Diff(entry, got); diff != "" {
			t.Errorf("entry mismatch (-want +got):\n%s", diff)
		}

		missing, err := store.Get(ctx, "dispatch-1", "sub-2")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if missing != nil {
			t.Errorf("expected nil, got %+v", missing)
		}
	})

	t.Run("entries expire after retention", func(t *testing.T) {
		store, mr := newRedisStore(t, WithRetention(time.Hour), WithTableName("orders"))

		store.Record(ctx, &Entry{DispatchID: "d1", SubscriberID: "s1", StartedAt: time.Now()})
		if ttl := mr.TTL("orders:entry:d1:s1"); ttl != time.Hour {
			t.Errorf("expected 1h TTL, got %v", ttl)
		}

		mr.FastForward(2 * time.Hour)
		page, err := store.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(page.Entries) != 0 {
			t.Errorf("expected expired entries to be skipped, got %d", len(page.Entries))
		}
	})

	t.Run("GetByDispatchID returns entries in start order", func(t *testing.T) {
		store, _ := newRedisStore(t)

		now := time.Now()
		store.Record(ctx, &Entry{DispatchID: "d1", SubscriberID: "sub-2", StartedAt: now.Add(time.Second)})
		store.Record(ctx, &Entry{DispatchID: "d1", SubscriberID: "sub-1", StartedAt: now})
		store.Record(ctx, &Entry{DispatchID: "d2", SubscriberID: "sub-3", StartedAt: now})

		entries, err := store.GetByDispatchID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetByDispatchID failed: %v", err)
		}
		var subs []string
		for _, e := range entries {
			subs = append(subs, e.SubscriberID)
		}
		if diff := cmp.Diff([]string{"sub-1", "sub-2"}, subs); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("List with filters", func(t *testing.T) {
		store, _ := newRedisStore(t)

		now := time.Now()
		store.Record(ctx, &Entry{DispatchID: "d1", SubscriberID: "s1", Name: "order.created", Kind: hooks.KindEvent, Status: StatusCompleted, StartedAt: now, Duration: time.Millisecond})
		store.Record(ctx, &Entry{DispatchID: "d2", SubscriberID: "s2", Name: "price", Kind: hooks.KindFilter, Status: StatusFailed, Error: "error", StartedAt: now.Add(time.Second), Duration: time.Second})
		store.Record(ctx, &Entry{DispatchID: "d3", SubscriberID: "s3", Name: "order.created", Kind: hooks.KindEvent, Status: StatusCompleted, StartedAt: now.Add(2 * time.Second)})

		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{"empty", Filter{}, []string{"d1", "d2", "d3"}},
			{"name", Filter{Name: "order.created"}, []string{"d1", "d3"}},
			{"dispatch", Filter{DispatchID: "d2"}, []string{"d2"}},
			{"start time", Filter{StartTime: now.Add(time.Second)}, []string{"d2", "d3"}},
			{"end time", Filter{EndTime: now.Add(time.Second)}, []string{"d1"}},
			{"desc", Filter{OrderDesc: true}, []string{"d3", "d2", "d1"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := store.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if diff := cmp.Diff(tt.want, dispatchIDs(page.Entries)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}

				count, err := store.Count(ctx, tt.filter)
				if err != nil {
					t.Fatalf("Count failed: %v", err)
				}
				if count != int64(len(tt.want)) {
					t.Errorf("expected count %d, got %d", len(tt.want), count)
				}
			})
		}
	})

	t.Run("List paginates", func(t *testing.T) {
		store, _ := newRedisStore(t)

		now := time.Now()
		for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
			store.Record(ctx, &Entry{DispatchID: id, SubscriberID: "s", StartedAt: now.Add(time.Duration(i) * time.Second)})
		}

		var got []string
		filter := Filter{Limit: 2}
		for {
			page, err := store.List(ctx, filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			got = append(got, dispatchIDs(page.Entries)...)
			if !page.HasMore {
				break
			}
			filter.Cursor = page.NextCursor
		}
		if diff := cmp.Diff([]string{"d1", "d2", "d3", "d4", "d5"}, got); diff != "" {
			t.Errorf("pages mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		store, _ := newRedisStore(t)

		now := time.Now()
		store.Record(ctx, &Entry{DispatchID: "old", SubscriberID: "s1", StartedAt: now.Add(-2 * time.Hour)})
		store.Record(ctx, &Entry{DispatchID: "old", SubscriberID: "s2", StartedAt: now.Add(-2 * time.Hour)})
		store.Record(ctx, &Entry{DispatchID: "new", SubscriberID: "s1", StartedAt: now})

		deleted, err := store.DeleteOlderThan(ctx, time.Hour)
		if err != nil {
			t.Fatalf("DeleteOlderThan failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("expected 2 deleted, got %d", deleted)
		}

		old, err := store.GetByDispatchID(ctx, "old")
		if err != nil {
			t.Fatalf("GetByDispatchID failed: %v", err)
		}
		if len(old) != 0 {
			t.Errorf("expected old dispatch to be gone, got %d entries", len(old))
		}

		count, _ := store.Count(ctx, Filter{})
		if count != 1 {
			t.Errorf("expected 1 remaining, got %d", count)
		}
	})

	t.Run("RecordStart and RecordComplete", func(t *testing.T) {
		store, _ := newRedisStore(t)

		rec := hooks.DispatchRecord{
			DispatchID:   "d1",
			SubscriberID: "s1",
			Name:         "order.created",
			Kind:         hooks.KindEvent,
		}
		if err := store.RecordStart(ctx, rec); err != nil {
			t.Fatalf("RecordStart failed: %v", err)
		}
		if err := store.RecordComplete(ctx, "d1", "s1", errors.New("boom"), 5*time.Millisecond); err != nil {
			t.Fatalf("RecordComplete failed: %v", err)
		}

		entry, err := store.Get(ctx, "d1", "s1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if entry.Status != StatusFailed || entry.Error != "boom" {
			t.Errorf("unexpected result %s/%q", entry.Status, entry.Error)
		}
		if entry.Duration != 5*time.Millisecond || entry.CompletedAt == nil {
			t.Errorf("expected duration and completion time, got %+v", entry)
		}

		if err := store.RecordComplete(ctx, "d1", "missing", nil, 0); err == nil {
			t.Error("expected error for unknown entry")
		}
	})

	t.Run("sampling skips dispatches", func(t *testing.T) {
		store, _ := newRedisStore(t, WithSampling(0))

		rec := hooks.DispatchRecord{DispatchID: "d1", SubscriberID: "s1"}
		if err := store.RecordStart(ctx, rec); err != nil {
			t.Fatalf("RecordStart failed: %v", err)
		}
		if err := store.RecordComplete(ctx, "d1", "s1", nil, 0); err != nil {
			t.Fatalf("RecordComplete failed: %v", err)
		}
		count, _ := store.Count(ctx, Filter{})
		if count != 0 {
			t.Errorf("expected nothing recorded, got %d", count)
		}
	})

	t.Run("monitored registry", func(t *testing.T) {
		store, _ := newRedisStore(t)
		h := hooks.New("orders", hooks.WithMonitor(store))

		h.AddEvent("order.created", func(ctx context.Context, args ...any) error { return nil })
		if err := h.DoEvent(ctx, "order.created"); err != nil {
			t.Fatalf("DoEvent failed: %v", err)
		}

		page, err := store.List(ctx, Filter{Name: "order.created"})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(page.Entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(page.Entries))
		}
		if page.Entries[0].Status != StatusCompleted || page.Entries[0].RegistryID != h.ID() {
			t.Errorf("unexpected entry %+v", page.Entries[0])
		}
	})
}
