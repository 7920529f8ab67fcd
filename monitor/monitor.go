// Package monitor records hook dispatches for observability.
//
// Every subscriber invocation becomes one Entry keyed by (DispatchID, SubscriberID),
// so a single DoEvent call with three listeners produces three entries sharing
// the same DispatchID.
//
// Example usage:
//
//	store := monitor.NewMemoryStore(monitor.WithMaxEntries(10000))
//	defer store.Close()
//
//	h := hooks.New("app", hooks.WithMonitor(store))
//
//	// Query failed invocations of the last hour
//	page, err := store.List(ctx, monitor.Filter{
//	    Status:    []monitor.Status{monitor.StatusFailed},
//	    StartTime: time.Now().Add(-time.Hour),
//	    Limit:     100,
//	})
//
// Stores:
//   - MemoryStore: in-process, bounded by WithMaxEntries.
//   - RedisStore: shared between processes, entries expire after WithRetention.
//   - MongoStore: one document per entry, call EnsureIndexes once.
//   - PostgresStore: database/sql with the driver of your choice, call CreateTable once.
package monitor

import (
	"time"

	"github.com/rbaliyan/hooks"
)

// Status represents the processing status of a monitor entry.
type Status string

const (
	// StatusPending indicates the subscriber has started but not returned.
	// Entries of subscribers that panicked without recovery end up failed.
	StatusPending Status = "pending"

	// StatusCompleted indicates the subscriber returned nil.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the subscriber returned an error or panicked.
	StatusFailed Status = "failed"
)

// ParseStatus parses a string into a Status.
// Returns false for unknown values.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusCompleted, StatusFailed:
		return Status(s), true
	default:
		return "", false
	}
}

// Entry represents a single subscriber invocation.
type Entry struct {
	// (DispatchID, SubscriberID) is the unique key
	DispatchID   string `json:"dispatch_id" msgpack:"dispatch_id"`
	SubscriberID string `json:"subscriber_id" msgpack:"subscriber_id"`

	// Hook context
	Name       string     `json:"name" msgpack:"name"`
	Kind       hooks.Kind `json:"kind" msgpack:"kind"`
	Priority   int        `json:"priority" msgpack:"priority"`
	RegistryID string     `json:"registry_id" msgpack:"registry_id"`

	// Processing status
	Status Status `json:"status" msgpack:"status"`
	Error  string `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timing
	StartedAt   time.Time     `json:"started_at" msgpack:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty" msgpack:"duration,omitempty"`

	// Tracing correlation (OpenTelemetry)
	TraceID string `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty" msgpack:"span_id,omitempty"`
}

// IsComplete returns true if the subscriber has returned.
func (e *Entry) IsComplete() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// HasError returns true if the entry has an error recorded.
func (e *Entry) HasError() bool {
	return e.Error != ""
}
