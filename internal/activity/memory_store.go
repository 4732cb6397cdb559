package activity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matthewbaird/bidconfig/internal/types"
)

type entityKey struct{ typ, id string }

// MemoryStore keeps the feed in process, with a per-entity index into the
// write log. It backs tests and runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	log      []types.ActivityEntry
	folded   []string // lower-cased summaries, parallel to log
	byEntity map[entityKey][]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEntity: make(map[entityKey][]int)}
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []types.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := entityKey{e.IndexedEntityType, e.IndexedEntityID}
		s.byEntity[k] = append(s.byEntity[k], len(s.log))
		s.log = append(s.log, e)
		s.folded = append(s.folded, strings.ToLower(e.Summary))
	}
	return nil
}

func (s *MemoryStore) QueryByEntity(_ context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	var before time.Time
	if opts.Cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			before = t
		}
	}

	s.mu.RLock()
	idx := s.byEntity[entityKey{entityType, entityID}]
	out := make([]types.ActivityEntry, 0, len(idx))
	for _, i := range idx {
		e := s.log[i]
		if opts.admits(e) && (before.IsZero() || e.OccurredAt.Before(before)) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	newestFirst(out)
	total := len(out)
	if limit := opts.limit(); total > limit {
		out = out[:limit]
		return out, out[limit-1].OccurredAt.Format(time.RFC3339Nano), total, nil
	}
	return out, "", total, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	needle := strings.ToLower(query)

	s.mu.RLock()
	var out []types.ActivityEntry
	for i, e := range s.log {
		if strings.Contains(s.folded[i], needle) && opts.admits(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	newestFirst(out)
	total := len(out)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchOptions().Limit
	}
	if total > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// admits reports whether e passes the query filters.
func (o *QueryOptions) admits(e types.ActivityEntry) bool {
	switch {
	case o.Since != nil && e.OccurredAt.Before(*o.Since):
		return false
	case o.Until != nil && e.OccurredAt.After(*o.Until):
		return false
	case len(o.Categories) > 0 && !slices.Contains(o.Categories, e.Category):
		return false
	case o.MinSeverity != "" && !IsAtLeast(e.Severity, o.MinSeverity):
		return false
	}
	return true
}

func (o *SearchOptions) admits(e types.ActivityEntry) bool {
	switch {
	case o.EntityType != "" && e.IndexedEntityType != o.EntityType:
		return false
	case o.Since != nil && e.OccurredAt.Before(*o.Since):
		return false
	case len(o.Categories) > 0 && !slices.Contains(o.Categories, e.Category):
		return false
	}
	return true
}

func newestFirst(entries []types.ActivityEntry) {
	slices.SortStableFunc(entries, func(a, b types.ActivityEntry) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
}
