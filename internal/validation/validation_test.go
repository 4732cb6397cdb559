package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

func newGate() *Gate {
	return New(resolver.New(schema.Default()), nil)
}

func completeDoor() types.Record {
	return types.Record{
		"product_type":       "door",
		"height":             2000.0,
		"width":              900.0,
		"quantity":           1.0,
		"doorway_type":       "single",
		"doorway_thickness":  120.0,
		"framework_front_id": int64(11),
		"door_lock_id":       int64(41),
	}
}

func TestCheck_CompleteRecordPasses(t *testing.T) {
	g := newGate()
	assert.Empty(t, g.Check(completeDoor()))
	assert.NoError(t, g.Confirm(completeDoor()))
}

func TestCheck_EachMissingFieldReportedOnce(t *testing.T) {
	g := newGate()
	res := resolver.New(schema.Default()).Resolve(completeDoor())

	for _, name := range res.Required {
		if name == schema.ProductTypeField {
			// without a product type there is no profile to require anything
			continue
		}
		t.Run(name, func(t *testing.T) {
			rec := completeDoor()
			delete(rec, name)

			err := g.Confirm(rec)
			var verr *Error
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, name, verr.Fields[0].Field)
			assert.Equal(t, ReasonRequired, verr.Fields[0].Reason)
			assert.Equal(t, schema.Default().FieldLabel(name), verr.Fields[0].Label)
		})
	}
}

func TestCheck_BlankStringCountsAsMissing(t *testing.T) {
	rec := completeDoor()
	rec["doorway_type"] = "  "
	fields := newGate().Check(rec)
	require.Len(t, fields, 1)
	assert.Equal(t, "doorway_type", fields[0].Field)
	assert.Equal(t, "Doorway type is required", fields[0].Message)
}

func TestCheck_ConditionalRequirement(t *testing.T) {
	rec := completeDoor()
	rec["doorway_type"] = "double"
	rec["frame_split"] = "yes"

	err := newGate().Confirm(rec)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"threshold_type", "framework_left_id", "framework_right_id"}, verr.Names())
}

func TestCheck_NumericConstraints(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		value  any
		reason string
	}{
		{"below minimum", "height", 0.0, ReasonMinimum},
		{"fractional quantity", "quantity", 1.5, ReasonInteger},
		{"not a number", "width", "wide", ReasonInvalid},
		{"negative box", "box_width", -5.0, ReasonMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := completeDoor()
			rec[tt.field] = tt.value
			fields := newGate().Check(rec)
			require.Len(t, fields, 1)
			assert.Equal(t, tt.field, fields[0].Field)
			assert.Equal(t, tt.reason, fields[0].Reason)
		})
	}
}

func TestCheck_HiddenFieldsNotChecked(t *testing.T) {
	rec := completeDoor()
	rec["glazing_bars"] = 1.5 // sash section does not apply to doors
	assert.Empty(t, newGate().Check(rec))
}

func TestCheck_NoProductType(t *testing.T) {
	assert.Empty(t, newGate().Check(types.Record{}))

	g := New(resolver.New(schema.Default(), resolver.WithGlobalRequired("product_type")), nil)
	fields := g.Check(types.Record{})
	require.Len(t, fields, 1)
	assert.Equal(t, "product_type", fields[0].Field)
}

func TestError_Message(t *testing.T) {
	err := &Error{Fields: []FieldError{
		{Field: "height", Message: "Height is required"},
		{Field: "width", Message: "Width is required"},
	}}
	assert.EqualError(t, err, "validation failed: Height is required; Width is required")
}
