package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	json "github.com/goccy/go-json"

	"github.com/matthewbaird/bidconfig/internal/types"
)

const table = "activity_entries"

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS activity_entries (
		event_id            TEXT NOT NULL,
		event_type          TEXT NOT NULL,
		occurred_at         INTEGER NOT NULL,
		indexed_entity_type TEXT NOT NULL,
		indexed_entity_id   TEXT NOT NULL,
		entity_role         TEXT NOT NULL,
		source_refs         TEXT NOT NULL DEFAULT '[]',
		summary             TEXT NOT NULL,
		category            TEXT NOT NULL,
		severity            TEXT NOT NULL,
		payload             TEXT,
		PRIMARY KEY (indexed_entity_type, indexed_entity_id, occurred_at, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_entity_time
		ON activity_entries (indexed_entity_type, indexed_entity_id, occurred_at DESC)`,
}

var selectColumns = []string{
	"event_id", "event_type", "occurred_at", "indexed_entity_type", "indexed_entity_id",
	"entity_role", "source_refs", "summary", "category", "severity", "payload",
}

// SQLStore implements Store on the SQLite database shared with the
// transaction store. occurred_at is stored as Unix nanoseconds so range
// filters and ordering compare integers.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateTable creates the activity_entries table and its index.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	for _, stmt := range createStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating activity table: %w", err)
		}
	}
	return nil
}

// WriteEntries inserts activity entries, ignoring duplicates.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []types.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ins := entsql.Dialect(dialect.SQLite).Insert(table).Columns(selectColumns...)
	for _, e := range entries {
		refsJSON, err := json.Marshal(e.SourceRefs)
		if err != nil {
			return fmt.Errorf("encoding source refs: %w", err)
		}
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		ins.Values(
			e.EventID, e.EventType, e.OccurredAt.UnixNano(), e.IndexedEntityType, e.IndexedEntityID,
			e.EntityRole, string(refsJSON), e.Summary, e.Category, e.Severity, payload,
		)
	}
	q, args := ins.OnConflict(entsql.DoNothing()).Query()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

// QueryByEntity implements Store.
func (s *SQLStore) QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	limit := opts.limit()

	preds := []*entsql.Predicate{
		entsql.EQ("indexed_entity_type", entityType),
		entsql.EQ("indexed_entity_id", entityID),
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", opts.Since.UnixNano()))
	}
	if opts.Until != nil {
		preds = append(preds, entsql.LTE("occurred_at", opts.Until.UnixNano()))
	}
	if len(opts.Categories) > 0 {
		preds = append(preds, entsql.In("category", toAny(opts.Categories)...))
	}
	if opts.MinSeverity != "" && opts.MinSeverity != SeverityInfo {
		preds = append(preds, entsql.In("severity", toAny(severitiesAtLeast(opts.MinSeverity))...))
	}
	if opts.Cursor != "" {
		if ct, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			preds = append(preds, entsql.LT("occurred_at", ct.UnixNano()))
		}
	}

	entries, err := s.query(ctx, entsql.And(preds...), limit+1)
	if err != nil {
		return nil, "", 0, err
	}
	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	total, err := s.count(ctx, entsql.And(preds...))
	if err != nil {
		return nil, "", 0, err
	}
	return entries, nextCursor, total, nil
}

// Search implements Store.
func (s *SQLStore) Search(ctx context.Context, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	preds := []*entsql.Predicate{entsql.ContainsFold("summary", query)}
	if opts.EntityType != "" {
		preds = append(preds, entsql.EQ("indexed_entity_type", opts.EntityType))
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", opts.Since.UnixNano()))
	}
	if len(opts.Categories) > 0 {
		preds = append(preds, entsql.In("category", toAny(opts.Categories)...))
	}

	entries, err := s.query(ctx, entsql.And(preds...), limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.count(ctx, entsql.And(preds...))
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *SQLStore) query(ctx context.Context, where *entsql.Predicate, limit int) ([]types.ActivityEntry, error) {
	q, args := entsql.Dialect(dialect.SQLite).
		Select(selectColumns...).
		From(entsql.Table(table)).
		Where(where).
		OrderBy(entsql.Desc("occurred_at")).
		Limit(limit).
		Query()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	entries := []types.ActivityEntry{}
	for rows.Next() {
		var (
			e        types.ActivityEntry
			nanos    int64
			refsJSON string
			payload  sql.NullString
		)
		if err := rows.Scan(
			&e.EventID, &e.EventType, &nanos, &e.IndexedEntityType, &e.IndexedEntityID,
			&e.EntityRole, &refsJSON, &e.Summary, &e.Category, &e.Severity, &payload,
		); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.OccurredAt = time.Unix(0, nanos).UTC()
		if refsJSON != "" {
			_ = json.Unmarshal([]byte(refsJSON), &e.SourceRefs)
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) count(ctx context.Context, where *entsql.Predicate) (int, error) {
	q, args := entsql.Dialect(dialect.SQLite).
		Select().Count().
		From(entsql.Table(table)).
		Where(where).
		Query()
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting activity entries: %w", err)
	}
	return n, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
