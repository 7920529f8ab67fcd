package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rbaliyan/hooks"
)

// ErrStoreClosed is returned by a store after Close.
var ErrStoreClosed = errors.New("monitor store is closed")

// Store defines the interface for monitor storage.
// Implementations must be safe for concurrent use.
//
// Every Store is a hooks.MonitorStore and can be passed to hooks.WithMonitor.
type Store interface {
	hooks.MonitorStore

	// Record creates or updates a monitor entry keyed by (DispatchID, SubscriberID).
	Record(ctx context.Context, entry *Entry) error

	// Get retrieves a monitor entry by its key. Returns nil if not found.
	Get(ctx context.Context, dispatchID, subscriberID string) (*Entry, error)

	// GetByDispatchID returns all entries of one dispatch in start order.
	GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error)

	// List returns a page of entries matching the filter.
	List(ctx context.Context, filter Filter) (*Page, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// DeleteOlderThan removes entries older than the specified age.
	// Returns the number of entries deleted.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Filter specifies criteria for listing monitor entries.
// All fields are optional. Empty filter returns all entries.
type Filter struct {
	// Identity filters
	DispatchID   string     // Exact match on dispatch ID
	SubscriberID string     // Exact match on subscriber ID
	Name         string     // Filter by hook name
	Kind         hooks.Kind // Filter by kind (empty = both)
	RegistryID   string     // Filter by registry ID

	// Status filters
	Status   []Status // Filter by status (empty = all statuses)
	HasError *bool    // Filter by error presence (nil = ignore)

	// Time filters
	StartTime time.Time // Entries started after this time (inclusive)
	EndTime   time.Time // Entries started before this time (exclusive)

	// Performance filters
	MinDuration time.Duration // Entries with duration >= this value

	// Cursor-based pagination
	Cursor    string // Opaque cursor from previous page (empty for first page)
	Limit     int    // Max results per page (0 = default limit)
	OrderDesc bool   // Order by started_at descending (default: ascending)
}

// Page represents a page of monitor entries with cursor-based pagination.
type Page struct {
	// Entries contains the monitor entries for this page.
	Entries []*Entry `json:"entries" msgpack:"entries"`

	// NextCursor is the opaque cursor for the next page.
	// Empty if there are no more pages.
	NextCursor string `json:"next_cursor,omitempty" msgpack:"next_cursor,omitempty"`

	// HasMore indicates whether there are more pages available.
	HasMore bool `json:"has_more" msgpack:"has_more"`
}

// Match reports whether entry satisfies every criterion of the filter.
// Pagination fields are ignored.
func (f *Filter) Match(entry *Entry) bool {
	if f.DispatchID != "" && entry.DispatchID != f.DispatchID {
		return false
	}
	if f.SubscriberID != "" && entry.SubscriberID != f.SubscriberID {
		return false
	}
	if f.Name != "" && entry.Name != f.Name {
		return false
	}
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if f.RegistryID != "" && entry.RegistryID != f.RegistryID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if entry.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HasError != nil && *f.HasError != entry.HasError() {
		return false
	}
	if !f.StartTime.IsZero() && entry.StartedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !entry.StartedAt.Before(f.EndTime) {
		return false
	}
	if f.MinDuration > 0 && entry.Duration < f.MinDuration {
		return false
	}
	return true
}

// DefaultLimit is the default page size when Limit is 0.
const DefaultLimit = 100

// MaxLimit is the maximum allowed page size.
const MaxLimit = 1000

// EffectiveLimit returns the effective limit, applying defaults and bounds.
func (f *Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	if f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// cursor is the position after the last entry of a page.
// Entries are ordered by (StartedAt, DispatchID, SubscriberID).
type cursor struct {
	StartedAt    time.Time `json:"s"`
	DispatchID   string    `json:"d"`
	SubscriberID string    `json:"u"`
}

func cursorOf(e *Entry) cursor {
	return cursor{StartedAt: e.StartedAt, DispatchID: e.DispatchID, SubscriberID: e.SubscriberID}
}

// entry returns a key-only entry at the cursor position
func (c cursor) entry() *Entry {
	return &Entry{StartedAt: c.StartedAt, DispatchID: c.DispatchID, SubscriberID: c.SubscriberID}
}

// encodeCursor encodes a cursor to a string.
func encodeCursor(c cursor) string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

// decodeCursor decodes a cursor from a string.
func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

// completion maps a subscriber result to the final status and error text
func completion(err error) (Status, string) {
	if err != nil {
		return StatusFailed, err.Error()
	}
	return StatusCompleted, ""
}

// pendingEntry builds the entry recorded when a subscriber starts
func pendingEntry(rec hooks.DispatchRecord) *Entry {
	return &Entry{
		DispatchID:   rec.DispatchID,
		SubscriberID: rec.SubscriberID,
		Name:         rec.Name,
		Kind:         rec.Kind,
		Priority:     rec.Priority,
		RegistryID:   rec.RegistryID,
		Status:       StatusPending,
		StartedAt:    time.Now(),
		TraceID:      rec.TraceID,
		SpanID:       rec.SpanID,
	}
}

// before orders entries by start time, then dispatch and subscriber ID
func before(a, b *Entry) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	if a.DispatchID != b.DispatchID {
		return a.DispatchID < b.DispatchID
	}
	return a.SubscriberID < b.SubscriberID
}

// paginate sorts matching entries and cuts the page the filter asks for.
// Stores that cannot page on the server side share it.
func paginate(matches []*Entry, filter Filter) (*Page, error) {
	if filter.OrderDesc {
		sort.Slice(matches, func(i, j int) bool { return before(matches[j], matches[i]) })
	} else {
		sort.Slice(matches, func(i, j int) bool { return before(matches[i], matches[j]) })
	}

	// Apply cursor: skip everything up to and including the cursor position
	if filter.Cursor != "" {
		cur, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		pivot := cur.entry()
		idx := len(matches)
		for i, entry := range matches {
			var after bool
			if filter.OrderDesc {
				after = before(entry, pivot)
			} else {
				after = before(pivot, entry)
			}
			if after {
				idx = i
				break
			}
		}
		matches = matches[idx:]
	}

	limit := filter.EffectiveLimit()
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	var nextCursor string
	if hasMore && len(matches) > 0 {
		nextCursor = encodeCursor(cursorOf(matches[len(matches)-1]))
	}

	return &Page{
		Entries:    matches,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
