package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rbaliyan/hooks"
)

// PostgresStore implements Store using PostgreSQL.
//
// PostgresStore provides durable monitor storage with cursor-based pagination.
// The primary key is (dispatch_id, subscriber_id).
//
// Table Schema:
//
//	CREATE TABLE hook_monitor (
//	    dispatch_id TEXT NOT NULL,
//	    subscriber_id TEXT NOT NULL,
//	    name TEXT NOT NULL,
//	    kind TEXT NOT NULL,
//	    priority INT NOT NULL DEFAULT 0,
//	    registry_id TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    error TEXT,
//	    started_at TIMESTAMPTZ NOT NULL,
//	    completed_at TIMESTAMPTZ,
//	    duration_ms BIGINT,
//	    trace_id TEXT,
//	    span_id TEXT,
//	    PRIMARY KEY (dispatch_id, subscriber_id)
//	);
//	CREATE INDEX idx_hook_monitor_name ON hook_monitor(name, kind);
//	CREATE INDEX idx_hook_monitor_status ON hook_monitor(status);
//	CREATE INDEX idx_hook_monitor_started_at ON hook_monitor(started_at);
//
// The caller chooses the driver:
//
//	db, _ := sql.Open("postgres", connString)
//	store := monitor.NewPostgresStore(db)
//	defer store.Close()
type PostgresStore struct {
	db          *sql.DB
	opts        *storeOptions
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewPostgresStore creates a new PostgreSQL-based monitor store.
//
// The store requires a table with the schema described in the type documentation.
// Use CreateTable() to create it automatically in development.
//
// With WithCleanupInterval the store starts a background goroutine that
// removes entries older than the retention period. Call Close() to stop it.
//
// Example:
//
//	store := monitor.NewPostgresStore(db,
//	    monitor.WithTableName("orders_hook_monitor"),
//	    monitor.WithCleanupInterval(5 * time.Minute),
//	)
//	defer store.Close()
func NewPostgresStore(db *sql.DB, opts ...StoreOption) *PostgresStore {
	s := &PostgresStore{
		db:          db,
		opts:        newStoreOptions(opts...),
		stopCleanup: make(chan struct{}),
	}

	if s.opts.cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

const pgColumns = `dispatch_id, subscriber_id, name, kind, priority, registry_id,
	status, error, started_at, completed_at, duration_ms, trace_id, span_id`

// Record creates or updates a monitor entry.
func (s *PostgresStore) Record(ctx context.Context, entry *Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dispatch_id, subscriber_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms
	`, s.opts.tableName, pgColumns)

	var durationMs *int64
	if entry.Duration > 0 {
		ms := entry.Duration.Milliseconds()
		durationMs = &ms
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.DispatchID,
		entry.SubscriberID,
		entry.Name,
		string(entry.Kind),
		entry.Priority,
		entry.RegistryID,
		string(entry.Status),
		nullString(entry.Error),
		entry.StartedAt,
		entry.CompletedAt,
		durationMs,
		nullString(entry.TraceID),
		nullString(entry.SpanID),
	)
	if err != nil {
		return fmt.Errorf("record monitor: %w", err)
	}
	return nil
}

// Get retrieves a monitor entry by its composite key.
func (s *PostgresStore) Get(ctx context.Context, dispatchID, subscriberID string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE dispatch_id = $1 AND subscriber_id = $2`,
		pgColumns, s.opts.tableName)

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, dispatchID, subscriberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return entry, nil
}

// GetByDispatchID returns all entries of one dispatch in start order.
func (s *PostgresStore) GetByDispatchID(ctx context.Context, dispatchID string) ([]*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE dispatch_id = $1 ORDER BY started_at ASC`,
		pgColumns, s.opts.tableName)

	rows, err := s.db.QueryContext(ctx, query, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("get by dispatch id: %w", err)
	}
	return scanRows(rows)
}

// whereBuilder accumulates SQL conditions with numbered placeholders
type whereBuilder struct {
	conditions []string
	args       []any
}

// add appends a condition; each "?" in cond becomes the next placeholder
func (w *whereBuilder) add(cond string, args ...any) {
	for _, arg := range args {
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)+1), 1)
		w.args = append(w.args, arg)
	}
	w.conditions = append(w.conditions, cond)
}

func (w *whereBuilder) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}

// buildWhere translates filter criteria into SQL conditions.
func buildWhere(filter Filter) *whereBuilder {
	w := &whereBuilder{}

	if filter.DispatchID != "" {
		w.add("dispatch_id = ?", filter.DispatchID)
	}
	if filter.SubscriberID != "" {
		w.add("subscriber_id = ?", filter.SubscriberID)
	}
	if filter.Name != "" {
		w.add("name = ?", filter.Name)
	}
	if filter.Kind != "" {
		w.add("kind = ?", string(filter.Kind))
	}
	if filter.RegistryID != "" {
		w.add("registry_id = ?", filter.RegistryID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		args := make([]any, len(filter.Status))
		for i, status := range filter.Status {
			placeholders[i] = "?"
			args[i] = string(status)
		}
		w.add("status IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	if filter.HasError != nil {
		if *filter.HasError {
			w.add("error IS NOT NULL AND error != ''")
		} else {
			w.add("(error IS NULL OR error = '')")
		}
	}
	if !filter.StartTime.IsZero() {
		w.add("started_at >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		w.add("started_at < ?", filter.EndTime)
	}
	if filter.MinDuration > 0 {
		w.add("duration_ms >= ?", filter.MinDuration.Milliseconds())
	}
	return w
}

// List returns a page of entries matching the filter.
func (s *PostgresStore) List(ctx context.Context, filter Filter) (*Page, error) {
	w := buildWhere(filter)

	// Apply cursor for pagination
	if filter.Cursor != "" {
		c, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		op := ">"
		if filter.OrderDesc {
			op = "<"
		}
		w.add(fmt.Sprintf("(started_at, dispatch_id, subscriber_id) %s (?, ?, ?)", op),
			c.StartedAt, c.DispatchID, c.SubscriberID)
	}

	orderBy := "ORDER BY started_at ASC, dispatch_id ASC, subscriber_id ASC"
	if filter.OrderDesc {
		orderBy = "ORDER BY started_at DESC, dispatch_id DESC, subscriber_id DESC"
	}

	// Query one extra row to check for more pages
	limit := filter.EffectiveLimit()
	query := fmt.Sprintf(`SELECT %s FROM %s %s %s LIMIT %d`,
		pgColumns, s.opts.tableName, w.clause(), orderBy, limit+1)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list monitor: %w", err)
	}
	entries, err := scanRows(rows)
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

// Count returns the number of entries matching the filter.
func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int64, error) {
	w := buildWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, s.opts.tableName, w.clause())

	var count int64
	if err := s.db.QueryRowContext(ctx, query, w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count monitor: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes entries older than the specified age.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE started_at < $1`, s.opts.tableName)

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("delete old entries: %w", err)
	}
	return result.RowsAffected()
}

// Close stops the background cleanup goroutine. The database handle stays open.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

// CreateTable creates the monitor table if it doesn't exist.
//
// This is a convenience method for development and testing. In production,
// you should manage schema migrations separately.
func (s *PostgresStore) CreateTable(ctx context.Context) error {
	t := s.opts.tableName
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			dispatch_id TEXT NOT NULL,
			subscriber_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			registry_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_ms BIGINT,
			trace_id TEXT,
			span_id TEXT,
			PRIMARY KEY (dispatch_id, subscriber_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_name ON %[1]s(name, kind);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(status);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_started_at ON %[1]s(started_at);
	`, t)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// cleanupLoop runs the periodic cleanup of old entries.
func (s *PostgresStore) cleanupLoop() {
	ticker := time.NewTicker(s.opts.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.DeleteOlderThan(context.Background(), s.opts.retention)
		case <-s.stopCleanup:
			return
		}
	}
}

// scanner is implemented by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into an Entry.
func scanEntry(row scanner) (*Entry, error) {
	var entry Entry
	var kind, status string
	var errStr, traceID, spanID sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	err := row.Scan(
		&entry.DispatchID,
		&entry.SubscriberID,
		&entry.Name,
		&kind,
		&entry.Priority,
		&entry.RegistryID,
		&status,
		&errStr,
		&entry.StartedAt,
		&completedAt,
		&durationMs,
		&traceID,
		&spanID,
	)
	if err != nil {
		return nil, err
	}

	entry.Kind = hooks.Kind(kind)
	entry.Status = Status(status)
	entry.Error = errStr.String
	entry.TraceID = traceID.String
	entry.SpanID = spanID.String
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		entry.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	}
	return &entry, nil
}

func scanRows(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// nullString returns a pointer to s if non-empty, nil otherwise.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordStart records a pending entry when a subscriber starts.
// Implements hooks.MonitorStore.
func (s *PostgresStore) RecordStart(ctx context.Context, rec hooks.DispatchRecord) error {
	if !s.opts.sampled(rec.DispatchID) {
		return nil
	}
	return s.Record(ctx, pendingEntry(rec))
}

// RecordComplete updates the entry with the subscriber result.
// Implements hooks.MonitorStore.
func (s *PostgresStore) RecordComplete(ctx context.Context, dispatchID, subscriberID string, handlerErr error, duration time.Duration) error {
	if !s.opts.sampled(dispatchID) {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error = $2, duration_ms = $3, completed_at = $4
		WHERE dispatch_id = $5 AND subscriber_id = $6
	`, s.opts.tableName)

	status, errText := completion(handlerErr)
	result, err := s.db.ExecContext(ctx, query,
		string(status),
		nullString(errText),
		duration.Milliseconds(),
		time.Now(),
		dispatchID,
		subscriberID,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entry not found: %s/%s", dispatchID, subscriberID)
	}
	return nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
