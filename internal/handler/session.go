package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/reoring/goskema/dsl"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// SessionHandler implements the single-record editor over HTTP.
type SessionHandler struct {
	mgr    *editor.Manager
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(mgr *editor.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{mgr: mgr, logger: logger}
}

type sessionResponse struct {
	editor.View
	Columns []projector.Unit  `json:"columns"`
	Labels  map[string]string `json:"labels"`
	Changed []string          `json:"changed,omitempty"`
}

func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, status int, s *editor.Session, changed []string) {
	writeJSON(w, status, sessionResponse{
		View:    s.View(),
		Columns: s.Columns(),
		Labels:  s.DisplayLabels(r.Context()),
		Changed: changed,
	})
}

var createSessionRequest = dsl.Object().
	Field("bid_id", dsl.StringOf[string]().Nullable()).
	Field("transaction_id", dsl.IntOf[int]().Min(1).Nullable()).
	Field("record", dsl.SchemaOf(dsl.MapAny()).Nullable()).
	UnknownStrict().
	MustBuild()

// CreateSession opens an editor on a new or persisted transaction.
// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	var body any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	req, err := createSessionRequest.Parse(r.Context(), body)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	bidID, _ := req["bid_id"].(string)
	txID, _ := req["transaction_id"].(int)
	record, _ := req["record"].(map[string]any)
	s, err := h.mgr.Open(r.Context(), editor.OpenOptions{
		BidID:         bidID,
		Actor:         audit.Actor,
		Source:        audit.Source,
		TransactionID: int64(txID),
		Record:        record,
	})
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusCreated, s, nil)
}

// GetSession returns the session state.
// GET /v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, s, nil)
}

// UpdateSession applies field edits in the order given, or in name order
// when sent as a map.
// PATCH /v1/sessions/{id}
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	edits, ok := decodeEdits(w, r)
	if !ok {
		return
	}
	changed, err := applyEdits(r.Context(), h.mgr.Engine().Registry(), s, edits)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, s, changed)
}

// DeleteSession cancels the session.
// DELETE /v1/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.mgr.Get(id); err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	h.mgr.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmSession validates and saves the record. Missing fields return 422
// and leave the session open.
// POST /v1/sessions/{id}/confirm
func (h *SessionHandler) ConfirmSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.mgr.Get(id)
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	tx, err := s.Confirm(r.Context())
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	h.mgr.Remove(id)
	writeJSON(w, http.StatusOK, map[string]*store.Transaction{"transaction": tx})
}

type edit struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// decodeEdits accepts {"field": f, "value": v}, {"edits": [...]} or
// {"values": {...}}.
func decodeEdits(w http.ResponseWriter, r *http.Request) ([]edit, bool) {
	var req struct {
		Field  string       `json:"field"`
		Value  any          `json:"value"`
		Edits  []edit       `json:"edits"`
		Values types.Record `json:"values"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return nil, false
	}
	edits := req.Edits
	if req.Field != "" {
		edits = append([]edit{{Field: req.Field, Value: req.Value}}, edits...)
	}
	names := make([]string, 0, len(req.Values))
	for k := range req.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		edits = append(edits, edit{Field: k, Value: req.Values[k]})
	}
	if len(edits) == 0 {
		writeError(w, http.StatusBadRequest, "NO_EDITS", "request contains no field edits")
		return nil, false
	}
	return edits, true
}

type fieldSetter interface {
	SetField(field string, value any) ([]string, error)
}

// applyEdits validates every edit against the registry's document schema,
// then writes them in order.
func applyEdits(ctx context.Context, reg *schema.Registry, s fieldSetter, edits []edit) ([]string, error) {
	doc := make(map[string]any, len(edits))
	for _, e := range edits {
		doc[e.Field] = e.Value
	}
	if _, err := reg.ParseValues(ctx, doc); err != nil {
		return nil, err
	}
	var changed []string
	for _, e := range edits {
		c, err := s.SetField(e.Field, e.Value)
		if err != nil {
			return nil, err
		}
		changed = append(changed, c...)
	}
	return changed, nil
}
