// Package measurement is the boundary to the measurement/audit service: the
// request built from a record, an HTTP client for the remote service, and a
// local calculator with the same contract.
package measurement

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/reoring/goskema/dsl"

	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// TriggerFields are the fields whose edits schedule a new computation.
var TriggerFields = []string{
	"height",
	"width",
	"quantity",
	schema.ProductTypeField,
	"doorway_type",
	"doorway_thickness",
	"framework_left_id",
	"framework_right_id",
	"trim_id",
	"filler_id",
	"sash_style",
	"box_width",
	"threshold_type",
}

// Request is the body of POST /measurement.
type Request struct {
	Height   float64 `json:"height"`
	Width    float64 `json:"width"`
	Quantity float64 `json:"quantity"`

	ProductType      string   `json:"product_type,omitempty"`
	DoorwayType      string   `json:"doorway_type,omitempty"`
	DoorwayThickness *float64 `json:"doorway_thickness,omitempty"`
	FrameworkLeftID  *int64   `json:"framework_left_id,omitempty"`
	FrameworkRightID *int64   `json:"framework_right_id,omitempty"`
	TrimID           *int64   `json:"trim_id,omitempty"`
	FillerID         *int64   `json:"filler_id,omitempty"`
	SashStyle        string   `json:"sash_style,omitempty"`
	BoxWidth         *float64 `json:"box_width,omitempty"`
	ThresholdType    string   `json:"threshold_type,omitempty"`
}

// requestSchema checks a POST /measurement body. The dimensions are
// required and non-negative; undeclared keys are rejected.
var requestSchema = dsl.Object().
	Field("height", dsl.FloatOf[float64]().Min(0)).Required().
	Field("width", dsl.FloatOf[float64]().Min(0)).Required().
	Field("quantity", dsl.FloatOf[float64]().Min(0)).Required().
	Field(schema.ProductTypeField, dsl.StringOf[string]().Nullable()).
	Field("doorway_type", dsl.StringOf[string]().Nullable()).
	Field("doorway_thickness", dsl.FloatOf[float64]().Min(0).Nullable()).
	Field("framework_left_id", dsl.IntOf[int]().Nullable()).
	Field("framework_right_id", dsl.IntOf[int]().Nullable()).
	Field("trim_id", dsl.IntOf[int]().Nullable()).
	Field("filler_id", dsl.IntOf[int]().Nullable()).
	Field("sash_style", dsl.StringOf[string]().Nullable()).
	Field("box_width", dsl.FloatOf[float64]().Min(0).Nullable()).
	Field("threshold_type", dsl.StringOf[string]().Nullable()).
	UnknownStrict().
	MustBuild()

// ParseRequest decodes and checks a request body. Schema failures are
// returned as goskema.Issues.
func ParseRequest(ctx context.Context, data []byte) (Request, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Request{}, fmt.Errorf("measurement: decoding request: %w", err)
	}
	if _, err := requestSchema.Parse(ctx, doc); err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("measurement: decoding request: %w", err)
	}
	return req, nil
}

// Response is the body returned by the service. Results is merged into the
// record as-is; unknown and missing keys are both fine.
type Response struct {
	Results map[string]any `json:"results"`
}

// Measurer computes measurement results for a request.
type Measurer interface {
	Measure(ctx context.Context, req Request) (types.Record, error)
}

// BuildRequest extracts a request from the record. ok is false unless height,
// width and quantity are all set to numbers; zero is a value.
func BuildRequest(rec types.Record) (req Request, ok bool) {
	h, hok := rec.Number("height")
	w, wok := rec.Number("width")
	q, qok := rec.Number("quantity")
	if !hok || !wok || !qok {
		return Request{}, false
	}
	req = Request{
		Height:           h,
		Width:            w,
		Quantity:         q,
		ProductType:      rec.String(schema.ProductTypeField),
		DoorwayType:      rec.String("doorway_type"),
		DoorwayThickness: number(rec, "doorway_thickness"),
		FrameworkLeftID:  reference(rec, "framework_left_id"),
		FrameworkRightID: reference(rec, "framework_right_id"),
		TrimID:           reference(rec, "trim_id"),
		FillerID:         reference(rec, "filler_id"),
		SashStyle:        rec.String("sash_style"),
		BoxWidth:         number(rec, "box_width"),
		ThresholdType:    rec.String("threshold_type"),
	}
	return req, true
}

func number(rec types.Record, name string) *float64 {
	if v, ok := rec.Number(name); ok {
		return &v
	}
	return nil
}

func reference(rec types.Record, name string) *int64 {
	if rec.IsEmpty(name) {
		return nil
	}
	if id, ok := schema.ReferenceID(rec[name]); ok {
		return &id
	}
	return nil
}
