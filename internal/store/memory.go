package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]*Transaction
	nextID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Transaction), nextID: 1}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.rows[t.ID]; ok && t.ID != 0 {
		t.CreatedAt = prev.CreatedAt
		t.CreatedBy = prev.CreatedBy
		t.Version = prev.Version + 1
	} else {
		if t.ID == 0 {
			t.ID = s.nextID
		}
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
		t.CreatedAt = now
		if t.CreatedBy == "" {
			t.CreatedBy = t.UpdatedBy
		}
		t.Version = 1
	}
	t.UpdatedAt = now
	s.rows[t.ID] = clone(t)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

// ListByBid implements Store. Rows are ordered by id.
func (s *MemoryStore) ListByBid(_ context.Context, bidID string, page Page) ([]*Transaction, int, error) {
	s.mu.RLock()
	var matched []*Transaction
	for _, t := range s.rows {
		if t.BidID == bidID {
			matched = append(matched, clone(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	if page.Offset >= total {
		return []*Transaction{}, total, nil
	}
	end := total
	if page.Limit > 0 && page.Offset+page.Limit < total {
		end = page.Offset + page.Limit
	}
	return matched[page.Offset:end], total, nil
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
