// Package store persists confirmed transactions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// ErrNotFound is returned when a transaction does not exist.
var ErrNotFound = errors.New("transaction not found")

// Transaction is one confirmed bid line item.
type Transaction struct {
	ID            int64        `json:"id"`
	BidID         string       `json:"bid_id"`
	ProductType   string       `json:"product_type,omitempty"`
	Data          types.Record `json:"data"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CreatedBy     string       `json:"created_by"`
	UpdatedBy     string       `json:"updated_by"`
	Source        string       `json:"source"`
	CorrelationID *string      `json:"correlation_id,omitempty"`
	SessionID     *string      `json:"session_id,omitempty"`
}

// Page selects a slice of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Store is the persistence collaborator.
type Store interface {
	// Save inserts t when t.ID is zero (assigning the new id) and otherwise
	// replaces the stored row, bumping Version and UpdatedAt.
	Save(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id int64) (*Transaction, error)
	ListByBid(ctx context.Context, bidID string, page Page) ([]*Transaction, int, error)
}

func clone(t *Transaction) *Transaction {
	c := *t
	c.Data = t.Data.Clone()
	return &c
}
