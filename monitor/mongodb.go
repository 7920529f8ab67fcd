package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/hooks"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: hook_monitor

Document structure:
{
    "_id": ObjectId,
    "dispatch_id": string,
    "subscriber_id": string,
    "name": string,
    "kind": string,
    "priority": int,
    "registry_id": string,
    "status": string,
    "error": string,
    "started_at": ISODate,
    "completed_at": ISODate,
    "duration_ms": int64,
    "trace_id": string,
    "span_id": string
}

Indexes:
db.hook_monitor.createIndex({"dispatch_id": 1, "subscriber_id": 1}, {unique: true})
db.hook_monitor.createIndex({"name": 1, "kind": 1})
db.hook_monitor.createIndex({"status": 1})
db.hook_monitor.createIndex({"started_at": 1})
*/

// MongoEntry represents a monitor entry document in MongoDB.
type MongoEntry struct {
	DispatchID   string     `bson:"dispatch_id"`
	SubscriberID string     `bson:"subscriber_id"`
	Name         string     `bson:"name"`
	Kind         string     `bson:"kind"`
	Priority     int        `bson:"priority"`
	RegistryID   string     `bson:"registry_id"`
	Status       string     `bson:"status"`
	Error        string     `bson:"error,omitempty"`
	StartedAt    time.Time  `bson:"started_at"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
	DurationMs   *int64     `bson:"duration_ms,omitempty"`
	TraceID      string     `bson:"trace_id,omitempty"`
	SpanID       string     `bson:"span_id,omitempty"`
}

// ToEntry converts MongoEntry to Entry.
func (m *MongoEntry) ToEntry() *Entry {
	entry := &Entry{
		DispatchID:   m.DispatchID,
		SubscriberID: m.SubscriberID,
		Name:         m.Name,
		Kind:         hooks.Kind(m.Kind),
		Priority:     m.Priority,
		RegistryID:   m.RegistryID,
		Status:       Status(m.Status),
		Error:        m.Error,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		TraceID:      m.TraceID,
		SpanID:       m.SpanID,
	}
	if m.DurationMs != nil {
		entry.Duration = time.Duration(*m.DurationMs) * time.Millisecond
	}
	return entry
}

// FromEntry creates a MongoEntry from Entry.
func FromEntry(e *Entry) *MongoEntry {
	var durationMs *int64
	if e.Duration > 0 {
		ms := e.Duration.Milliseconds()
		durationMs = &ms
	}

	return &MongoEntry{
		DispatchID:   e.DispatchID,
		SubscriberID: e.SubscriberID,
		Name:         e.Name,
		Kind:         string(e.Kind),
		Priority:     e.Priority,
		RegistryID:   e.RegistryID,
		Status:       string(e.Status),
		Error:        e.Error,
		StartedAt:    e.StartedAt,
		CompletedAt:  e.CompletedAt,
		DurationMs:   durationMs,
		TraceID:      e.TraceID,
		SpanID:       e.SpanID,
	}
}

// MongoStore is a MongoDB-based monitor store.
type MongoStore struct {
	collection *mongo.Collection
	opts       *storeOptions
}

// NewMongoStore creates a new MongoDB monitor store.
// The collection is named by WithTableName (default "hook_monitor").
//
// Example:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	store := monitor.NewMongoStore(client.Database("app"))
//	_ = store.EnsureIndexes(ctx)
//
//	h := hooks.New("app", hooks.WithMonitor(store))
func NewMongoStore(db *mongo.Database, opts ...StoreOption) *MongoStore {
	o := newStoreOptions(opts...)
	return &MongoStore{
		collection: db.Collection(o.tableName),
		opts:       o,
	}
}

// WithCollection sets a custom collection name.
func (s *MongoStore) WithCollection(name string) *MongoStore {
	s.collection = s.collection.Database().Collection(name)
	return s
}

// Collection returns the underlying MongoDB collection.
func (s *MongoStore) Collection() *mongo.Collection {
	return s.collection
}

// Indexes returns the required indexes for the monitor collection.
// Users can use this to create indexes manually or merge with their own indexes.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dispatch_id", Value: 1}, {Key: "subscriber_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "name", Value: 1}, {Key: "kind", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "started_at", Value: 1}},
		},
	}
}

// EnsureIndexes creates the required indexes for the monitor collection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

func keyFilter(dispatchID, subscriberID string) bson.M {
	return bson.M{
		"dispatch_id":   dispatchID,
		"subscriber_id": subscriberID,
	}
}

// Record creates or updates a monitor entry.
func (s *MongoStore) Record(ctx context.Context, entry *Entry) error {
	doc := FromEntry(entry)

	update := bson.M{
		"$set": bson.M{
			"name":         doc.Name,
			"kind":         doc.Kind,
			"priority":     doc.Priority,
			"registry_id":  doc.RegistryID,
			"status":       doc.Status,
			"error":        doc.Error,
			"started_at":   doc.StartedAt,
			"completed_at": doc.CompletedAt,
			"duration_ms":  doc.DurationMs,
			"trace_id":     doc.TraceID,
			"span_id":      doc.SpanID,
		},
		"$setOnInsert": keyFilter(doc.DispatchID, doc.SubscriberID),
	}

	opts := options.Update().SetUpsert(true)
	if _, err := s.collection.UpdateOne(ctx, keyFilter(doc.DispatchID, doc.SubscriberID), update, opts); err != nil {
		return fmt.Errorf("record monitor: %w", err)
	}
	return nil
}

// Get retrieves a monitor entry by its composite key.
func (s *MongoStore) Get(ctx context.Context, dispatchID, subscriberID string) (*Entry, error) {
	var doc MongoEntry
	err := s.collection.FindOne(ctx, keyFilter(dispatchID, subscriberID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return doc.ToEntry(), nil
}

// GetByDispatchID returns all entries of one dispatch in start order.
func (s *MongoStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.collection.Find(ctx, bson.M{"dispatch_id": dispatchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("get by dispatch id: %w", err)
	}
	return decodeEntries(ctx, cur)
}

func decodeEntries(ctx context.Context, cur *mongo.Cursor) ([]*Entry, error) {
	defer cur.Close(ctx)

	var entries []*Entry
	for cur.Next(ctx) {
		var doc MongoEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, doc.ToEntry())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return entries, nil
}

// List returns a page of entries matching the filter.
func (s *MongoStore) List(ctx context.Context, filter Filter) (*Page, error) {
	mongoFilter := buildMongoFilter(filter)

	// Apply cursor for pagination
	if filter.Cursor != "" {
		c, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}

		op := "$gt"
		if filter.OrderDesc {
			op = "$lt"
		}
		cursorFilter := bson.M{
			"$or": []bson.M{
				{"started_at": bson.M{op: c.StartedAt}},
				{
					"started_at":  c.StartedAt,
					"dispatch_id": bson.M{op: c.DispatchID},
				},
				{
					"started_at":    c.StartedAt,
					"dispatch_id":   c.DispatchID,
					"subscriber_id": bson.M{op: c.SubscriberID},
				},
			},
		}

		// Merge cursor filter with existing filters
		if len(mongoFilter) > 0 {
			mongoFilter = bson.M{"$and": []bson.M{mongoFilter, cursorFilter}}
		} else {
			mongoFilter = cursorFilter
		}
	}

	sortOrder := 1
	if filter.OrderDesc {
		sortOrder = -1
	}
	sort := bson.D{
		{Key: "started_at", Value: sortOrder},
		{Key: "dispatch_id", Value: sortOrder},
		{Key: "subscriber_id", Value: sortOrder},
	}

	// Query one extra row to check for more pages
	limit := filter.EffectiveLimit()
	findOpts := options.Find().
		SetSort(sort).
		SetLimit(int64(limit + 1))

	cur, err := s.collection.Find(ctx, mongoFilter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list monitor: %w", err)
	}
	entries, err := decodeEntries(ctx, cur)
	if err != nil {
		return nil, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = encodeCursor(cursorOf(entries[len(entries)-1]))
	}

	return &Page{
		Entries:    entries,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// buildMongoFilter creates a MongoDB filter from monitor Filter.
func buildMongoFilter(filter Filter) bson.M {
	mongoFilter := bson.M{}

	if filter.DispatchID != "" {
		mongoFilter["dispatch_id"] = filter.DispatchID
	}
	if filter.SubscriberID != "" {
		mongoFilter["subscriber_id"] = filter.SubscriberID
	}
	if filter.Name != "" {
		mongoFilter["name"] = filter.Name
	}
	if filter.Kind != "" {
		mongoFilter["kind"] = string(filter.Kind)
	}
	if filter.RegistryID != "" {
		mongoFilter["registry_id"] = filter.RegistryID
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		mongoFilter["status"] = bson.M{"$in": statuses}
	}
	if filter.HasError != nil {
		if *filter.HasError {
			mongoFilter["error"] = bson.M{"$nin": bson.A{"", nil}}
		} else {
			mongoFilter["error"] = bson.M{"$in": bson.A{"", nil}}
		}
	}
	startedAt := bson.M{}
	if !filter.StartTime.IsZero() {
		startedAt["$gte"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		startedAt["$lt"] = filter.EndTime
	}
	if len(startedAt) > 0 {
		mongoFilter["started_at"] = startedAt
	}
	if filter.MinDuration > 0 {
		mongoFilter["duration_ms"] = bson.M{"$gte": filter.MinDuration.Milliseconds()}
	}

	return mongoFilter
}

// Count returns the number of entries matching the filter.
func (s *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	return s.collection.CountDocuments(ctx, buildMongoFilter(filter))
}

// DeleteOlderThan removes entries older than the specified age.
func (s *MongoStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result, err := s.collection.DeleteMany(ctx, bson.M{"started_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete old entries: %w", err)
	}
	return result.DeletedCount, nil
}

// RecordStart records a pending entry when a subscriber starts.
// Implements hooks.MonitorStore.
func (s *MongoStore) RecordStart(ctx context.Context, rec hooks.DispatchRecord) error {
	if !s.opts.sampled(rec.DispatchID) {
		return nil
	}
	return s.Record(ctx, pendingEntry(rec))
}

// RecordComplete updates the entry with the subscriber result.
// Implements hooks.MonitorStore.
func (s *MongoStore) RecordComplete(ctx context.Context, dispatchID, subscriberID string, handlerErr error, duration time.Duration) error {
	if !s.opts.sampled(dispatchID) {
		return nil
	}
	status, errText := completion(handlerErr)
	update := bson.M{
		"$set": bson.M{
			"status":       string(status),
			"error":        errText,
			"duration_ms":  duration.Milliseconds(),
			"completed_at": time.Now(),
		},
	}

	result, err := s.collection.UpdateOne(ctx, keyFilter(dispatchID, subscriberID), update)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("entry not found: %s/%s", dispatchID, subscriberID)
	}
	return nil
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)
