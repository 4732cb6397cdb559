package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// MemoryCatalog is an in-memory Catalog for development and tests.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[int64]types.Reference
}

// NewMemoryCatalog creates a catalog holding items.
func NewMemoryCatalog(items ...types.Reference) *MemoryCatalog {
	c := &MemoryCatalog{items: make(map[int64]types.Reference, len(items))}
	c.Add(items...)
	return c
}

// Add inserts or replaces items.
func (c *MemoryCatalog) Add(items ...types.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.items[it.ID] = it
	}
}

// Get implements Catalog.
func (c *MemoryCatalog) Get(_ context.Context, id int64) (types.Reference, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return types.Reference{}, ErrNotFound
	}
	return it, nil
}

// Search implements Catalog. Results are ordered by id.
func (c *MemoryCatalog) Search(_ context.Context, q Query) (Page, error) {
	normalizePage(&q)
	c.mu.RLock()
	var matched []types.Reference
	for _, it := range c.items {
		if matches(it, q) {
			matched = append(matched, it)
		}
	}
	c.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := Page{Items: []types.Reference{}, Total: len(matched)}
	if q.Offset >= len(matched) {
		return page, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[q.Offset:end]
	return page, nil
}

func matches(it types.Reference, q Query) bool {
	if q.Search != "" && !strings.Contains(strings.ToLower(it.Label), strings.ToLower(q.Search)) {
		return false
	}
	for key, want := range q.Params {
		switch key {
		case ParamCategory:
			if it.Category != want {
				return false
			}
		case ParamProductType:
			pts, ok := it.Extra["product_types"]
			if ok && !containsString(pts, want) {
				return false
			}
		case ParamMinWidth:
			min, ok := types.ToNumber(want)
			if !ok {
				continue
			}
			width, ok := types.ToNumber(it.Extra["width"])
			if !ok || width < min {
				return false
			}
		default:
			have, ok := it.Extra[key]
			if ok && (types.Record{key: have}).String(key) != want {
				return false
			}
		}
	}
	return true
}

func containsString(v any, want string) bool {
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s == want {
				return true
			}
		}
	case []any:
		for _, s := range t {
			if s == want {
				return true
			}
		}
	}
	return false
}
