// Package stream provides real-time streaming of completed monitor entries.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/hooks"
	"github.com/rbaliyan/hooks/monitor"
)

// DefaultPollInterval is the default interval for polling the store.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultWindow is how far back each poll looks for entries that completed
// since the previous poll. Subscribers running longer than the window are not
// streamed.
const DefaultWindow = time.Minute

// Subscriber represents a subscriber to monitor entry updates.
type Subscriber struct {
	id      string
	filter  monitor.Filter
	entries chan *monitor.Entry
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
}

// ID returns the subscriber ID.
func (s *Subscriber) ID() string {
	return s.id
}

// Entries returns the channel for receiving entries.
func (s *Subscriber) Entries() <-chan *monitor.Entry {
	return s.entries
}

// Done is closed when the subscriber is closed or the broadcaster stops.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close closes the subscriber.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Broadcaster provides real-time streaming of monitor entries.
// It polls the store and hands every entry to the matching subscribers once,
// when the entry is complete. Entries started before the broadcaster was
// created are never streamed.
type Broadcaster struct {
	store        monitor.Store
	pollInterval time.Duration
	window       time.Duration
	subscribers  map[string]*Subscriber
	mu           sync.RWMutex
	done         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	started      bool
	createdAt    time.Time
	seen         map[string]time.Time // completed entry key -> started at
}

// NewBroadcaster creates a new Broadcaster with the given store.
func NewBroadcaster(store monitor.Store, pollInterval time.Duration) *Broadcaster {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Broadcaster{
		store:        store,
		pollInterval: pollInterval,
		window:       DefaultWindow,
		subscribers:  make(map[string]*Subscriber),
		done:         make(chan struct{}),
		createdAt:    time.Now(),
		seen:         make(map[string]time.Time),
	}
}

// WithWindow sets how far back each poll looks. Must be called before Start.
func (b *Broadcaster) WithWindow(window time.Duration) *Broadcaster {
	if window > 0 {
		b.window = window
	}
	return b
}

// Start begins polling for new entries.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.pollLoop(ctx)
}

// Stop stops the broadcaster and closes all subscribers.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()

	b.mu.Lock()
	for id, sub := range b.subscribers {
		sub.Close()
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Subscribe creates a new subscriber with the given filter.
// Pagination fields of the filter are ignored.
func (b *Broadcaster) Subscribe(filter monitor.Filter) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		id:      hooks.NewID(),
		filter:  filter,
		entries: make(chan *monitor.Entry, 100),
		done:    make(chan struct{}),
	}

	b.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.id]; ok {
		sub.Close()
		delete(b.subscribers, sub.id)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

// poll runs on the poll goroutine only; seen needs no locking.
func (b *Broadcaster) poll(ctx context.Context) {
	from := time.Now().Add(-b.window)
	if from.Before(b.createdAt) {
		from = b.createdAt
	}

	filter := monitor.Filter{
		StartTime: from,
		Status:    []monitor.Status{monitor.StatusCompleted, monitor.StatusFailed},
		Limit:     monitor.MaxLimit,
	}

	var fresh []*monitor.Entry
	for {
		page, err := b.store.List(ctx, filter)
		if err != nil {
			return
		}
		for _, entry := range page.Entries {
			key := entry.DispatchID + ":" + entry.SubscriberID
			if _, ok := b.seen[key]; ok {
				continue
			}
			b.seen[key] = entry.StartedAt
			fresh = append(fresh, entry)
		}
		if !page.HasMore {
			break
		}
		filter.Cursor = page.NextCursor
	}

	for key, startedAt := range b.seen {
		if startedAt.Before(from) {
			delete(b.seen, key)
		}
	}

	if len(fresh) > 0 {
		b.broadcast(fresh)
	}
}

func (b *Broadcaster) broadcast(entries []*monitor.Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range entries {
		for _, sub := range b.subscribers {
			if sub.filter.Match(entry) {
				select {
				case sub.entries <- entry:
				default:
					// Channel full, skip entry
				}
			}
		}
	}
}
