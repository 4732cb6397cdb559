// Package activity stores the feed of engine events indexed by the entities
// they affected: transactions, bids and editor sessions.
package activity

import (
	"context"
	"time"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// Store reads and writes activity entries.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns activity entries for a specific entity, newest first.
	QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)

	// Search matches summaries case-insensitively.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []types.ActivityEntry, totalCount int, err error)
}

// QueryOptions controls filtering and pagination for entity activity queries.
type QueryOptions struct {
	Since       *time.Time
	Until       *time.Time
	Categories  []string
	MinSeverity string // default "info"
	Limit       int    // default 100, max 500
	Cursor      string // occurred_at of the last entry of the previous page
}

// SearchOptions controls filtering for summary search.
type SearchOptions struct {
	EntityType string
	Since      *time.Time
	Categories []string
	Limit      int // default 20
}

// DefaultQueryOptions returns QueryOptions covering the last 30 days.
func DefaultQueryOptions() QueryOptions {
	since := time.Now().AddDate(0, 0, -30)
	return QueryOptions{
		Since:       &since,
		MinSeverity: SeverityInfo,
		Limit:       100,
	}
}

// DefaultSearchOptions returns SearchOptions with sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: 20}
}

func (o *QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}
