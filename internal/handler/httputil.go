package handler

import (
	"errors"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	goskema "github.com/reoring/goskema"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/catalog"
	"github.com/matthewbaird/bidconfig/internal/editor"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/store"
	"github.com/matthewbaird/bidconfig/internal/validation"
)

// AuditInfo holds audit metadata extracted from request headers.
type AuditInfo struct {
	Actor         string
	Source        string
	CorrelationID *string
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("writeJSON encode error", zap.Error(err))
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// writeValidation writes the 422 response for a blocked confirmation.
func writeValidation(w http.ResponseWriter, verr *validation.Error) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  verr.Error(),
		"code":   "VALIDATION_FAILED",
		"fields": verr.Fields,
	})
}

// writeIssues writes the 400 response for a body that failed its schema.
// The code follows the first issue.
func writeIssues(w http.ResponseWriter, issues goskema.Issues) {
	code := "INVALID_VALUE"
	details := make([]map[string]string, 0, len(issues))
	for i, is := range issues {
		if i == 0 {
			switch is.Code {
			case goskema.CodeUnknownKey:
				code = "UNKNOWN_FIELD"
			case goskema.CodeRequired:
				code = "MISSING_FIELD"
			}
		}
		details = append(details, map[string]string{"path": is.Path, "code": is.Code, "message": is.Message})
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  issues.Error(),
		"code":   code,
		"issues": details,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination extracts page_size and offset from query params.
func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 20, Offset: 0}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// errorToHTTP maps engine errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, logger *zap.Logger, err error) {
	if issues, ok := goskema.AsIssues(err); ok {
		writeIssues(w, issues)
		return
	}
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.Is(err, editor.ErrSessionNotFound),
		errors.Is(err, editor.ErrBulkNotFound),
		errors.Is(err, editor.ErrRowNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, editor.ErrUnknownField):
		writeError(w, http.StatusBadRequest, "UNKNOWN_FIELD", err.Error())
	case errors.Is(err, editor.ErrReadOnlyField):
		writeError(w, http.StatusBadRequest, "READ_ONLY_FIELD", err.Error())
	case errors.Is(err, editor.ErrNotReference):
		writeError(w, http.StatusBadRequest, "NOT_REFERENCE", err.Error())
	case errors.Is(err, editor.ErrMissingBid):
		writeError(w, http.StatusBadRequest, "MISSING_BID", err.Error())
	case errors.Is(err, schema.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", err.Error())
	case errors.Is(err, editor.ErrSessionClosed):
		writeError(w, http.StatusConflict, "SESSION_CLOSED", err.Error())
	case errors.Is(err, editor.ErrConfirming):
		writeError(w, http.StatusConflict, "CONFIRM_IN_PROGRESS", err.Error())
	default:
		logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// parseAuditContext extracts audit metadata from request headers.
func parseAuditContext(w http.ResponseWriter, r *http.Request) (AuditInfo, bool) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ACTOR", "X-Actor header is required")
		return AuditInfo{}, false
	}
	source := r.Header.Get("X-Source")
	if source == "" {
		source = "editor"
	}
	info := AuditInfo{
		Actor:  actor,
		Source: source,
	}
	if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
		info.CorrelationID = &cid
	}
	return info, true
}
