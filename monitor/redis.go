package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rbaliyan/hooks"
)

/*
Redis Schema:

- String: {prefix}:entry:{dispatch_id}:{subscriber_id} - msgpack encoded Entry
- Sorted set: {prefix}:index - every entry, scored by started_at (unix micro)
- Sorted set: {prefix}:dispatch:{dispatch_id} - entries of one dispatch, same score

Entry keys expire after the retention period. Index members whose entry has
expired are skipped on read and removed by DeleteOlderThan.
*/

// redisBatch is the number of keys fetched per MGET.
const redisBatch = 500

// RedisStore implements Store using Redis.
//
// Several processes can share one RedisStore namespace; use WithTableName to
// give each registry group its own key prefix.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := monitor.NewRedisStore(rdb,
//	    monitor.WithTableName("orders_hooks"),
//	    monitor.WithRetention(24*time.Hour),
//	)
//	h := hooks.New("orders", hooks.WithMonitor(store))
type RedisStore struct {
	client   redis.Cmdable
	opts     *storeOptions
	indexKey string
	prefix   string
}

// NewRedisStore creates a new Redis-based monitor store.
func NewRedisStore(client redis.Cmdable, opts ...StoreOption) *RedisStore {
	o := newStoreOptions(opts...)
	return &RedisStore{
		client:   client,
		opts:     o,
		indexKey: o.tableName + ":index",
		prefix:   o.tableName,
	}
}

func (s *RedisStore) entryKey(member string) string {
	return s.prefix + ":entry:" + member
}

func (s *RedisStore) dispatchKey(dispatchID string) string {
	return s.prefix + ":dispatch:" + dispatchID
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Record creates or updates a monitor entry.
func (s *RedisStore) Record(ctx context.Context, entry *Entry) error {
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	member := makeKey(entry.DispatchID, entry.SubscriberID)
	z := redis.Z{Score: score(entry.StartedAt), Member: member}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(member), data, s.opts.retention)
		pipe.ZAdd(ctx, s.indexKey, z)
		pipe.ZAdd(ctx, s.dispatchKey(entry.DispatchID), z)
		pipe.Expire(ctx, s.dispatchKey(entry.DispatchID), s.opts.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	return nil
}

// Get retrieves a monitor entry by its key. Returns nil if not found.
func (s *RedisStore) Get(ctx context.Context, dispatchID, subscriberID string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(makeKey(dispatchID, subscriberID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// GetByDispatchID returns all entries of one dispatch in start order.
func (s *RedisStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	members, err := s.client.ZRange(ctx, s.dispatchKey(dispatchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	return s.load(ctx, members)
}

// candidates returns the entries that may match the filter, narrowed by the
// indexes. The caller still applies Filter.Match.
func (s *RedisStore) candidates(ctx context.Context, filter Filter) ([]*Entry, error) {
	if filter.DispatchID != "" {
		return s.GetByDispatchID(ctx, filter.DispatchID)
	}

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.StartTime.IsZero() {
		rng.Min = strconv.FormatInt(filter.StartTime.UnixMicro(), 10)
	}
	if !filter.EndTime.IsZero() {
		rng.Max = strconv.FormatInt(filter.EndTime.UnixMicro(), 10)
	}

	members, err := s.client.ZRangeByScore(ctx, s.indexKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	return s.load(ctx, members)
}

// load fetches and decodes entries. Expired members are skipped.
func (s *RedisStore) load(ctx context.Context, members []string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(members))
	for start := 0; start < len(members); start += redisBatch {
		end := min(start+redisBatch, len(members))

		keys := make([]string, 0, end-start)
		for _, member := range members[start:end] {
			keys = append(keys, s.entryKey(member))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("mget: %w", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var entry Entry
			if err := msgpack.Unmarshal([]byte(str), &entry); err != nil {
				return nil, fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, &entry)
		}
	}
	return entries, nil
}

// List returns a page of entries matching the filter.
func (s *RedisStore) List(ctx context.Context, filter Filter) (*Page, error) {
	entries, err := s.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}

	matches := entries[:0]
	for _, entry := range entries {
		if filter.Match(entry) {
			matches = append(matches, entry)
		}
	}
	return paginate(matches, filter)
}

// Count returns the number of entries matching the filter.
func (s *RedisStore) Count(ctx context.Context, filter Filter) (int64, error) {
	entries, err := s.candidates(ctx, filter)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range entries {
		if filter.Match(entry) {
			count++
		}
	}
	return count, nil
}

// DeleteOlderThan removes entries older than the specified age.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	members, err := s.client.ZRangeByScore(ctx, s.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	entries, err := s.load(ctx, members)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for start := 0; start < len(members); start += redisBatch {
		end := min(start+redisBatch, len(members))
		batch := members[start:end]

		keys := make([]string, 0, len(batch))
		remove := make([]any, 0, len(batch))
		for _, member := range batch {
			keys = append(keys, s.entryKey(member))
			remove = append(remove, member)
		}

		var del *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, s.indexKey, remove...)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete: %w", err)
		}
		deleted += del.Val()
	}

	// Per-dispatch indexes of deleted entries
	for _, entry := range entries {
		member := makeKey(entry.DispatchID, entry.SubscriberID)
		if err := s.client.ZRem(ctx, s.dispatchKey(entry.DispatchID), member).Err(); err != nil {
			return deleted, fmt.Errorf("zrem: %w", err)
		}
	}
	return deleted, nil
}

// RecordStart records a pending entry when a subscriber starts.
// Implements hooks.MonitorStore.
func (s *RedisStore) RecordStart(ctx context.Context, rec hooks.DispatchRecord) error {
	if !s.opts.sampled(rec.DispatchID) {
		return nil
	}
	return s.Record(ctx, pendingEntry(rec))
}

// RecordComplete updates the entry with the subscriber result.
// Implements hooks.MonitorStore.
func (s *RedisStore) RecordComplete(ctx context.Context, dispatchID, subscriberID string, handlerErr error, duration time.Duration) error {
	if !s.opts.sampled(dispatchID) {
		return nil
	}

	entry, err := s.Get(ctx, dispatchID, subscriberID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("entry not found: %s/%s", dispatchID, subscriberID)
	}

	entry.Status, entry.Error = completion(handlerErr)
	entry.Duration = duration
	now := time.Now()
	entry.CompletedAt = &now
	return s.Record(ctx, entry)
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
