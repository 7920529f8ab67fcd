package hooks

import (
	"sort"
	"sync"
)

// Subscriber is a callback registered under a hook name.
type Subscriber[F any] struct {
	// ID identifies the subscriber within its name. Keyed subscribers get a
	// deterministic ID, anonymous ones a random one.
	ID string
	// Key is the caller supplied key, empty for anonymous subscribers.
	Key      string
	Priority int
	Callback F
}

// record is a subscriber plus its registration sequence
type record[F any] struct {
	sub Subscriber[F]
	seq uint64
}

// table maps hook name -> subscriber ID -> subscriber.
// Safe for concurrent use.
type table[F any] struct {
	mu    sync.RWMutex
	seq   uint64
	names map[string]map[string]*record[F]
}

func newTable[F any]() *table[F] {
	return &table[F]{
		names: make(map[string]map[string]*record[F]),
	}
}

// add stores sub under name. An existing subscriber with the same ID is
// replaced in place and keeps its registration position.
func (t *table[F]) add(name string, sub Subscriber[F]) (replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.names[name]
	if !ok {
		subs = make(map[string]*record[F])
		t.names[name] = subs
	}
	if existing, ok := subs[sub.ID]; ok {
		existing.sub = sub
		return true
	}
	t.seq++
	subs[sub.ID] = &record[F]{sub: sub, seq: t.seq}
	return false
}

// has reports whether at least one subscriber exists for name
func (t *table[F]) has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names[name]) > 0
}

// remove deletes one subscriber. The name itself disappears with its last subscriber.
func (t *table[F]) remove(name, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.names[name]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(t.names, name)
	}
	return true
}

// removeAll deletes every subscriber of name
func (t *table[F]) removeAll(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.names[name]; !ok {
		return false
	}
	delete(t.names, name)
	return true
}

// list returns a copy of the subscribers of name in registration order
func (t *table[F]) list(name string) []Subscriber[F] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listLocked(name)
}

// all returns a copy of every name's subscribers in registration order
func (t *table[F]) all() map[string][]Subscriber[F] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string][]Subscriber[F], len(t.names))
	for name := range t.names {
		result[name] = t.listLocked(name)
	}
	return result
}

// ordered returns a snapshot of the subscribers of name sorted by priority
// descending, ties in registration order. Callbacks are invoked on the
// snapshot with no lock held.
func (t *table[F]) ordered(name string) []Subscriber[F] {
	t.mu.RLock()
	records := t.recordsLocked(name)
	t.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].sub.Priority > records[j].sub.Priority
	})
	subs := make([]Subscriber[F], len(records))
	for i, r := range records {
		subs[i] = r.sub
	}
	return subs
}

// counts returns the number of names and the total number of subscribers
func (t *table[F]) counts() (names, subscribers int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, subs := range t.names {
		subscribers += len(subs)
	}
	return len(t.names), subscribers
}

func (t *table[F]) listLocked(name string) []Subscriber[F] {
	records := t.recordsLocked(name)
	subs := make([]Subscriber[F], len(records))
	for i, r := range records {
		subs[i] = r.sub
	}
	return subs
}

// recordsLocked copies the records of name sorted by registration sequence
func (t *table[F]) recordsLocked(name string) []record[F] {
	subs := t.names[name]
	records := make([]record[F], 0, len(subs))
	for _, r := range subs {
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].seq < records[j].seq
	})
	return records
}
