package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/metrics"
	"github.com/matthewbaird/bidconfig/internal/store"
)

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	eng *Engine

	mu          sync.RWMutex
	sessions    map[string]*Session
	bulks       map[string]*Bulk
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager with the given timeouts. A zero
// timeout disables that kind of expiry.
func NewManager(eng *Engine, maxAge, idleTimeout time.Duration) *Manager {
	return &Manager{
		eng:         eng,
		sessions:    make(map[string]*Session),
		bulks:       make(map[string]*Bulk),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// Engine returns the engine sessions are created from.
func (m *Manager) Engine() *Engine { return m.eng }

// OpenOptions describe the record a new session edits.
type OpenOptions struct {
	BidID  string
	Actor  string
	Source string
	// TransactionID loads an existing persisted transaction.
	TransactionID int64
	// Record seeds a new record. Ignored when TransactionID is set.
	Record map[string]any
}

// Open creates a session. A new record gets field defaults; a persisted one
// is loaded as saved and its alias groups reconciled.
func (m *Manager) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	so := SessionOptions{
		BidID:  opts.BidID,
		Actor:  opts.Actor,
		Source: opts.Source,
		Record: opts.Record,
	}
	if opts.TransactionID != 0 {
		tx, err := m.eng.store.Get(ctx, opts.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("loading transaction %d: %w", opts.TransactionID, err)
		}
		so.TransactionID = tx.ID
		so.Record = tx.Data
		if so.BidID == "" {
			so.BidID = tx.BidID
		}
	} else {
		so.Defaults = true
	}

	s := m.eng.NewSession(so)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionsActive.Inc()
	m.eng.logger.Debug("session opened",
		zap.String("session", s.ID),
		zap.String("bid_id", s.BidID),
		zap.Int64("transaction_id", so.TransactionID))
	return s, nil
}

// Get retrieves a session by ID. Expired and idle sessions are cancelled
// and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove cancels the session if it is still open and forgets it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.SessionsActive.Dec()
	if err := s.Cancel(); err != nil && !errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrConfirming) {
		m.eng.logger.Warn("cancelling session", zap.String("session", id), zap.Error(err))
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions and bulk sheets.
func (m *Manager) Cleanup() {
	var stale []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
			stale = append(stale, id)
		}
	}
	var staleBulks []string
	for id, b := range m.bulks {
		if m.maxAge > 0 && time.Since(b.CreatedAt) > m.maxAge {
			staleBulks = append(staleBulks, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Remove(id)
	}
	for _, id := range staleBulks {
		m.RemoveBulk(id)
	}
	if n := len(stale) + len(staleBulks); n > 0 {
		m.eng.logger.Info("expired editor sessions", zap.Int("count", n))
	}
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Cleanup()
		}
	}
}

// Close cancels every open session and bulk sheet.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	bulkIDs := make([]string, 0, len(m.bulks))
	for id := range m.bulks {
		bulkIDs = append(bulkIDs, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Remove(id)
	}
	for _, id := range bulkIDs {
		m.RemoveBulk(id)
	}
}

// OpenBulk creates a bulk sheet for productType.
func (m *Manager) OpenBulk(bidID, productType, actor string) (*Bulk, error) {
	b, err := NewBulk(m.eng, bidID, productType, actor)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.bulks[b.ID] = b
	m.mu.Unlock()
	return b, nil
}

// GetBulk retrieves a bulk sheet by ID.
func (m *Manager) GetBulk(id string) (*Bulk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bulks[id]
	if !ok {
		return nil, ErrBulkNotFound
	}
	return b, nil
}

// RemoveBulk cancels a bulk sheet's open rows and forgets it.
func (m *Manager) RemoveBulk(id string) {
	m.mu.Lock()
	b, ok := m.bulks[id]
	delete(m.bulks, id)
	m.mu.Unlock()
	if ok {
		b.Close()
	}
}

// LoadTransaction is a convenience wrapper around the engine's store.
func (m *Manager) LoadTransaction(ctx context.Context, id int64) (*store.Transaction, error) {
	return m.eng.store.Get(ctx, id)
}
