package handler

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// SchemaHandler serves the registry and the stateless resolve, validate and
// reference-search operations.
type SchemaHandler struct {
	eng    *editor.Engine
	logger *zap.Logger
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(eng *editor.Engine, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{eng: eng, logger: logger}
}

// GetSchema returns the registry snapshot.
// GET /v1/schema?format=json|yaml
func (h *SchemaHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	var buf bytes.Buffer
	if err := h.eng.Registry().Export(&buf, format); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", err.Error())
		return
	}
	contentType := "application/json"
	if format == "yaml" || format == "yml" {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ListProductTypes returns the selectable product types.
// GET /v1/schema/product-types
func (h *SchemaHandler) ListProductTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"product_types": h.eng.Registry().ProductTypes()})
}

// ListSections returns the sections considered for a product type.
// GET /v1/schema/sections?product_type=door
func (h *SchemaHandler) ListSections(w http.ResponseWriter, r *http.Request) {
	pt, ok := h.productType(w, r)
	if !ok {
		return
	}
	sections := h.eng.Registry().SectionsForProductType(pt)
	if sections == nil {
		sections = []*schema.SectionSpec{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_type": pt, "sections": sections})
}

// ListColumns returns the projected editable units for a product type.
// GET /v1/schema/columns?product_type=door
func (h *SchemaHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	pt, ok := h.productType(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_type": pt, "columns": h.eng.Projector().Project(pt)})
}

// GetLabel returns the human label of a field.
// GET /v1/schema/labels/{field}
func (h *SchemaHandler) GetLabel(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	label := h.eng.Registry().FieldLabel(field)
	if label == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown field: "+field)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"field": field, "label": label})
}

type recordRequest struct {
	Record      types.Record `json:"record"`
	ProductType *string      `json:"product_type,omitempty"`
}

// Resolve returns the visible sections, visible fields and required set.
// POST /v1/resolve
func (h *SchemaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Record == nil {
		req.Record = types.Record{}
	}
	res := h.eng.Resolver()
	if req.ProductType != nil {
		writeJSON(w, http.StatusOK, res.ResolveFor(req.Record, *req.ProductType))
		return
	}
	writeJSON(w, http.StatusOK, res.Resolve(req.Record))
}

// Validate runs the confirmation gate without saving.
// POST /v1/validate
func (h *SchemaHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Record == nil {
		req.Record = types.Record{}
	}
	fields := h.eng.Gate().Check(req.Record)
	if fields == nil {
		fields = []validation.FieldError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(fields) == 0, "fields": fields})
}

// SearchReferences lists catalog candidates for a reference field given the
// record being edited.
// POST /v1/references/{field}/search
func (h *SchemaHandler) SearchReferences(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	var req struct {
		Record types.Record `json:"record"`
		Search string       `json:"search"`
		Limit  int          `json:"limit"`
		Offset int          `json:"offset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	s := h.eng.NewSession(editor.SessionOptions{Record: req.Record})
	defer s.Cancel()

	page, err := s.References(r.Context(), field, catalog.Query{
		Search: req.Search,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		errorToHTTP(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *SchemaHandler) productType(w http.ResponseWriter, r *http.Request) (string, bool) {
	pt := r.URL.Query().Get("product_type")
	if pt != "" && !h.eng.Registry().HasProductType(pt) {
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", "unknown product type: "+pt)
		return "", false
	}
	return pt, true
}
