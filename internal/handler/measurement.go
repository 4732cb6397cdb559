package handler

import (
	"io"
	"net/http"

	goskema "github.com/reoring/goskema"

	"github.com/matthewbaird/bidconfig/internal/measurement"
)

// MeasurementHandler serves the local calculator under the measurement
// service's wire format.
type MeasurementHandler struct {
	calc *measurement.Calculator
}

// NewMeasurementHandler creates a new MeasurementHandler.
func NewMeasurementHandler(calc *measurement.Calculator) *MeasurementHandler {
	return &MeasurementHandler{calc: calc}
}

// Measure computes results for one request.
// POST /measurement
func (h *MeasurementHandler) Measure(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	req, err := measurement.ParseRequest(r.Context(), data)
	if err != nil {
		if issues, ok := goskema.AsIssues(err); ok {
			writeIssues(w, issues)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, measurement.Response{Results: h.calc.Compute(req)})
}
