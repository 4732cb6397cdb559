package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// Bulk is a row-based sheet of records sharing one product type and thus
// one column projection. Every row is an independent session with its own
// pipeline.
type Bulk struct {
	ID          string
	BidID       string
	ProductType string
	Actor       string
	CreatedAt   time.Time

	eng     *Engine
	columns []projector.Unit

	mu   sync.Mutex
	rows []*Session
}

// NewBulk creates an empty sheet.
func NewBulk(eng *Engine, bidID, productType, actor string) (*Bulk, error) {
	if !eng.reg.HasProductType(productType) {
		return nil, fmt.Errorf("%w: product type %q", schema.ErrInvalidValue, productType)
	}
	return &Bulk{
		ID:          uuid.New().String(),
		BidID:       bidID,
		ProductType: productType,
		Actor:       actor,
		CreatedAt:   time.Now(),
		eng:         eng,
		columns:     eng.proj.Project(productType),
	}, nil
}

// Columns returns the sheet's columns.
func (b *Bulk) Columns() []projector.Unit {
	return b.columns
}

// AddRow appends a row seeded with field defaults, the sheet's product type
// and values. It returns the new row's index.
func (b *Bulk) AddRow(values types.Record) (int, error) {
	s := b.eng.NewSession(SessionOptions{
		BidID:    b.BidID,
		Actor:    b.Actor,
		Source:   "bulk",
		Record:   types.Record{schema.ProductTypeField: b.ProductType},
		Defaults: true,
	})
	for field, v := range values {
		if b.eng.reg.CanonicalName(field) == schema.ProductTypeField {
			continue
		}
		if _, err := s.SetField(field, v); err != nil {
			s.Cancel()
			return 0, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, s)
	return len(b.rows) - 1, nil
}

func (b *Bulk) row(i int) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.rows) {
		return nil, fmt.Errorf("%w: %d", ErrRowNotFound, i)
	}
	return b.rows[i], nil
}

// SetCell edits one cell. The product type column is fixed for the sheet.
func (b *Bulk) SetCell(i int, field string, value any) ([]string, error) {
	s, err := b.row(i)
	if err != nil {
		return nil, err
	}
	if b.eng.reg.CanonicalName(field) == schema.ProductTypeField {
		return nil, fmt.Errorf("%w: %s is fixed for a bulk sheet", ErrReadOnlyField, field)
	}
	return s.SetField(field, value)
}

// Row returns the session behind row i.
func (b *Bulk) Row(i int) (*Session, error) {
	return b.row(i)
}

// Rows returns a view of every row.
func (b *Bulk) Rows() []View {
	b.mu.Lock()
	rows := append([]*Session(nil), b.rows...)
	b.mu.Unlock()
	out := make([]View, len(rows))
	for i, s := range rows {
		out[i] = s.View()
	}
	return out
}

// RowResult reports the outcome of confirming one row.
type RowResult struct {
	Row           int                     `json:"row"`
	TransactionID int64                   `json:"transaction_id,omitempty"`
	Errors        []validation.FieldError `json:"errors,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// ConfirmAll confirms every open row independently. Rows that fail keep
// their state and report their own errors. Already confirmed rows are
// reported with their transaction id.
func (b *Bulk) ConfirmAll(ctx context.Context) []RowResult {
	b.mu.Lock()
	rows := append([]*Session(nil), b.rows...)
	b.mu.Unlock()

	out := make([]RowResult, len(rows))
	for i, s := range rows {
		out[i] = RowResult{Row: i}
		if s.Status() == StatusConfirmed {
			out[i].TransactionID = s.TransactionID()
			continue
		}
		tx, err := s.Confirm(ctx)
		var verr *validation.Error
		switch {
		case errors.As(err, &verr):
			out[i].Errors = verr.Fields
		case err != nil:
			out[i].Error = err.Error()
		default:
			out[i].TransactionID = tx.ID
		}
	}
	return out
}

// Close cancels every open row.
func (b *Bulk) Close() {
	b.mu.Lock()
	rows := b.rows
	b.mu.Unlock()
	for _, s := range rows {
		_ = s.Cancel()
	}
}
