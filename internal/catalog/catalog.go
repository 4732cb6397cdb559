// Package catalog resolves the candidate sets behind reference fields and
// caches the display labels of the identifiers a record holds.
package catalog

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// ErrNotFound is returned by Get for an unknown identifier.
var ErrNotFound = errors.New("catalog item not found")

// Well-known filter parameters. Any other parameter is matched against the
// item's extra attributes when the item carries that attribute.
const (
	ParamCategory    = "category"
	ParamProductType = "product_type"
	ParamMinWidth    = "min_width"
)

// Query is one paged catalog search.
type Query struct {
	Params map[string]string `json:"params"`
	Search string            `json:"search,omitempty"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Page is one page of candidates.
type Page struct {
	Items []types.Reference `json:"items"`
	Total int               `json:"total"`
}

// Catalog is the reference-data collaborator.
type Catalog interface {
	Search(ctx context.Context, q Query) (Page, error)
	Get(ctx context.Context, id int64) (types.Reference, error)
}

// Labels is the read-side cache mapping reference identifiers to labels.
type Labels struct {
	mu     sync.RWMutex
	labels map[int64]string
}

// NewLabels creates an empty cache.
func NewLabels() *Labels {
	return &Labels{labels: make(map[int64]string)}
}

// Put caches the labels of refs.
func (l *Labels) Put(refs ...types.Reference) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range refs {
		if r.Label != "" {
			l.labels[r.ID] = r.Label
		}
	}
}

// Get returns a cached label.
func (l *Labels) Get(id int64) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.labels[id]
	return s, ok
}

// Lookup returns the label for id, asking cat on a cache miss. Unknown
// identifiers render as their number.
func (l *Labels) Lookup(ctx context.Context, cat Catalog, id int64) (string, error) {
	if s, ok := l.Get(id); ok {
		return s, nil
	}
	ref, err := cat.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return strconv.FormatInt(id, 10), nil
	}
	if err != nil {
		return "", err
	}
	l.Put(ref)
	return ref.Label, nil
}

func normalizePage(q *Query) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}
