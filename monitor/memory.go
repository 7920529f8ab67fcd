package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rbaliyan/hooks"
)

// MemoryStore implements Store using in-memory storage.
//
// Entries are lost on restart; the store is meant for development, tests and
// live debugging of a running process through monitor/http.
//
// Example:
//
//	store := monitor.NewMemoryStore()
//	defer store.Close()
//
//	h := hooks.New("app", hooks.WithMonitor(store))
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry // key: dispatchID:subscriberID
	order      []string          // insertion order, may hold deleted keys
	maxEntries int
	opts       *storeOptions
	closed     bool
}

// NewMemoryStore creates a new in-memory monitor store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := newStoreOptions(opts...)
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		maxEntries: o.maxEntries,
		opts:       o,
	}
}

// makeKey creates the storage key.
func makeKey(dispatchID, subscriberID string) string {
	return dispatchID + ":" + subscriberID
}

// Record creates or updates a monitor entry.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	key := makeKey(entry.DispatchID, entry.SubscriberID)

	// Create a copy to avoid mutation
	entryCopy := *entry
	if _, exists := s.entries[key]; !exists {
		s.evictLocked()
		s.order = append(s.order, key)
	}
	s.entries[key] = &entryCopy
	return nil
}

// evictLocked drops the oldest entries until there is room for one more.
func (s *MemoryStore) evictLocked() {
	if s.maxEntries <= 0 {
		return
	}
	for len(s.entries) >= s.maxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

// Get retrieves a monitor entry by its key.
func (s *MemoryStore) Get(ctx context.Context, dispatchID, subscriberID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if entry, ok := s.entries[makeKey(dispatchID, subscriberID)]; ok {
		entryCopy := *entry
		return &entryCopy, nil
	}
	return nil, nil
}

// GetByDispatchID returns all entries of one dispatch.
func (s *MemoryStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var entries []*Entry
	for _, key := range s.order {
		entry, ok := s.entries[key]
		if ok && entry.DispatchID == dispatchID {
			entryCopy := *entry
			entries = append(entries, &entryCopy)
		}
	}
	return entries, nil
}

// List returns a page of entries matching the filter.
func (s *MemoryStore) List(ctx context.Context, filter Filter) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// Collect matching entries
	var matches []*Entry
	for _, entry := range s.entries {
		if filter.Match(entry) {
			entryCopy := *entry
			matches = append(matches, &entryCopy)
		}
	}

	return paginate(matches, filter)
}

// Count returns the number of entries matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int64
	for _, entry := range s.entries {
		if filter.Match(entry) {
			count++
		}
	}
	return count, nil
}

// DeleteOlderThan removes entries older than the specified age.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-age)
	var deleted int64
	live := s.order[:0]
	for _, key := range s.order {
		if s.entries[key].StartedAt.Before(cutoff) {
			delete(s.entries, key)
			deleted++
			continue
		}
		live = append(live, key)
	}
	clear(s.order[len(live):])
	s.order = live
	return deleted, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	s.order = nil
	return nil
}

// Len returns the number of entries in the store (for testing).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RecordStart records a pending entry when a subscriber starts.
// Implements hooks.MonitorStore.
func (s *MemoryStore) RecordStart(ctx context.Context, rec hooks.DispatchRecord) error {
	if !s.opts.sampled(rec.DispatchID) {
		return nil
	}
	return s.Record(ctx, pendingEntry(rec))
}

// RecordComplete updates the entry with the subscriber result.
// Implements hooks.MonitorStore.
func (s *MemoryStore) RecordComplete(ctx context.Context, dispatchID, subscriberID string, handlerErr error, duration time.Duration) error {
	if !s.opts.sampled(dispatchID) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	entry, ok := s.entries[makeKey(dispatchID, subscriberID)]
	if !ok {
		return fmt.Errorf("entry not found: %s/%s", dispatchID, subscriberID)
	}

	entry.Status, entry.Error = completion(handlerErr)
	entry.Duration = duration
	now := time.Now()
	entry.CompletedAt = &now
	return nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
