package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// BulkHandler implements the bulk tabular editor over HTTP.
type BulkHandler struct {
	mgr    *editor.Manager
	logger *zap.Logger
}

// NewBulkHandler creates a new BulkHandler.
func NewBulkHandler(mgr *editor.Manager, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{mgr: mgr, logger: logger}
}

func bulkView(b *editor.Bulk) map[string]any {
	return map[string]any{
		"id":           b.ID,
		"bid_id":       b.BidID,
		"product_type": b.ProductType,
		"columns":      b.Columns(),
		"rows":         b.Rows(),
	}
}

// CreateBulk opens a bulk sheet.
// POST /v1/bulk
func (h *BulkHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	var req struct {
		BidID       string `json:"bid_id"`
		ProductType string `json:"product_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	b, err := h.mgr.OpenBulk(req.BidID, req.ProductType, audit.Actor)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkView(b))
}

// GetBulk returns the sheet with every row.
// GET /v1/bulk/{id}
func (h *BulkHandler) GetBulk(w http.ResponseWriter, r *http.Request) {
	b, err := h.mgr.GetBulk(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkView(b))
}

// AddRow appends a row.
// POST /v1/bulk/{id}/rows
func (h *BulkHandler) AddRow(w http.ResponseWriter, r *http.Request) {
	b, err := h.mgr.GetBulk(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	var req struct {
		Values types.Record `json:"values"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	i, err := b.AddRow(req.Values)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	s, _ := b.Row(i)
	writeJSON(w, http.StatusCreated, map[string]any{"row": i, "state": s.View()})
}

// UpdateRow edits cells of one row.
// PATCH /v1/bulk/{id}/rows/{row}
func (h *BulkHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	b, err := h.mgr.GetBulk(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	i, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid row: "+chi.URLParam(r, "row"))
		return
	}
	edits, ok := decodeEdits(w, r)
	if !ok {
		return
	}
	changed, err := applyEdits(r.Context(), h.mgr.Engine().Registry(), rowSetter{b: b, row: i}, edits)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	s, _ := b.Row(i)
	writeJSON(w, http.StatusOK, map[string]any{"row": i, "state": s.View(), "changed": changed})
}

// ConfirmBulk confirms every row and reports per-row results.
// POST /v1/bulk/{id}/confirm
func (h *BulkHandler) ConfirmBulk(w http.ResponseWriter, r *http.Request) {
	b, err := h.mgr.GetBulk(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	results := b.ConfirmAll(r.Context())
	status := http.StatusOK
	for _, res := range results {
		if res.TransactionID == 0 {
			status = http.StatusUnprocessableEntity
			break
		}
	}
	writeJSON(w, status, map[string]any{"results": results})
}

type rowSetter struct {
	b   *editor.Bulk
	row int
}

func (s rowSetter) SetField(field string, value any) ([]string, error) {
	return s.b.SetCell(s.row, field, value)
}
