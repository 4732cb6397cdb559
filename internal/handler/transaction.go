package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/store"
)

// TransactionHandler reads confirmed transactions.
type TransactionHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(st store.Store, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{store: st, logger: logger}
}

// GetTransaction returns one transaction.
// GET /v1/transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid transaction id: "+raw)
		return
	}
	tx, err := h.store.Get(r.Context(), id)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListBidTransactions lists a bid's transactions.
// GET /v1/bids/{bid}/transactions?page_size=&offset=
func (h *TransactionHandler) ListBidTransactions(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	txs, total, err := h.store.ListByBid(r.Context(), chi.URLParam(r, "bid"), store.Page{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	if txs == nil {
		txs = []*store.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs, "total_count": total})
}
