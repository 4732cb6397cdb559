package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

func TestResolve_Deterministic(t *testing.T) {
	r := New(schema.Default())
	rec := types.Record{
		"product_type": "door-window",
		"doorway_type": "double",
		"frame_split":  "yes",
		"box_width":    80.0,
	}
	before := rec.Clone()

	first := r.Resolve(rec)
	second := r.Resolve(rec)
	assert.Equal(t, first, second)
	assert.Equal(t, before, rec, "resolve must not mutate the record")
}

func TestResolve_NoProductType(t *testing.T) {
	r := New(schema.Default())
	res := r.Resolve(types.Record{"height": 2000.0})

	assert.Equal(t, "", res.ProductType)
	assert.Equal(t, []string{"general", "dimensions", "notes"}, res.Sections)
	assert.Empty(t, res.Required)
}

func TestResolve_NoProductTypeGlobalRequired(t *testing.T) {
	r := New(schema.Default(), WithGlobalRequired("product_type"))
	res := r.Resolve(types.Record{})
	assert.Equal(t, []string{"product_type"}, res.Required)
}

func TestResolve_DoorRequiredSet(t *testing.T) {
	r := New(schema.Default())
	res := r.Resolve(types.Record{"product_type": "door", "doorway_type": "single"})

	assert.Equal(t, []string{
		"product_type", "height", "width", "quantity",
		"doorway_type", "doorway_thickness", "framework_front_id", "door_lock_id",
	}, res.Required)
	assert.Equal(t, []string{"doorway_type", "doorway_thickness", "threshold_type"}, res.Fields["doorway"])
	assert.Equal(t, []string{"framework_front_id", "frame_split"}, res.Fields["frame"])
}

func TestResolve_ConditionalRequirement(t *testing.T) {
	r := New(schema.Default())
	res := r.Resolve(types.Record{"product_type": "door", "doorway_type": "double", "frame_split": "yes"})

	assert.True(t, res.IsRequired("threshold_type"))
	assert.True(t, res.IsRequired("framework_left_id"))
	assert.True(t, res.IsRequired("framework_right_id"))
	assert.False(t, res.IsRequired("crown_id"))
	assert.True(t, res.IsVisible("framework_left_id"))
}

func TestResolve_VisibleSectionHidesField(t *testing.T) {
	r := New(schema.Default())
	res := r.Resolve(types.Record{"product_type": "door", "doorway_type": "sliding"})

	assert.Contains(t, res.Sections, "doorway")
	assert.NotContains(t, res.Fields["doorway"], "threshold_type")
}

func TestResolve_SectionPredicate(t *testing.T) {
	r := New(schema.Default())

	res := r.Resolve(types.Record{"product_type": "window"})
	assert.NotContains(t, res.Sections, "sill")
	assert.False(t, res.IsRequired("sill_material"))

	res = r.Resolve(types.Record{"product_type": "window", "has_sill": "yes"})
	assert.Contains(t, res.Sections, "sill")
	assert.True(t, res.IsRequired("sill_material"))
}

func TestResolve_ProductTypeSwitchRestores(t *testing.T) {
	r := New(schema.Default())
	rec := types.Record{"product_type": "door", "doorway_type": "double", "has_sill": "yes"}

	a := r.Resolve(rec)

	rec["product_type"] = "window"
	b := r.Resolve(rec)
	assert.NotEqual(t, a, b)
	assert.False(t, b.IsRequired("doorway_type"), "door requirements must not leak into window")

	rec["product_type"] = "door"
	assert.Equal(t, a, r.Resolve(rec))
}

func TestProductType_AliasFallback(t *testing.T) {
	r := New(schema.Default())

	assert.Equal(t, "sill", r.ProductType(types.Record{"type_product": "sill"}))
	assert.Equal(t, "door", r.ProductType(types.Record{"product_type": "door", "type_product": "sill"}))
	assert.Equal(t, "sill", r.ProductType(types.Record{"product_type": "", "type_product": "sill"}))
	assert.Equal(t, "", r.ProductType(types.Record{}))
}

// faultyRegistry declares predicates that fail at evaluation time: the
// compare conditions meet a non-numeric value.
func faultyRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New(
		[]schema.ProductType{{Key: "door", Label: "Door"}},
		nil,
		[]*schema.SectionSpec{
			{
				Key: "main",
				Fields: []*schema.FieldSpec{
					{Name: "size", Kind: schema.KindText},
					{Name: "hidden_on_fault", Kind: schema.KindText, Visible: schema.Compare("size", ">", 1)},
					{Name: "optional_on_fault", Kind: schema.KindText, Required: schema.Compare("size", ">", 1)},
					{Name: "plain", Kind: schema.KindText, Required: schema.Always()},
				},
			},
			{
				Key:     "broken",
				Visible: &schema.Condition{Kind: "bogus"},
				Fields:  []*schema.FieldSpec{{Name: "inner", Kind: schema.KindText}},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func TestResolve_FaultyPredicates(t *testing.T) {
	r := New(faultyRegistry(t))
	res := r.Resolve(types.Record{"product_type": "door", "size": "large"})

	assert.Equal(t, []string{"main"}, res.Sections, "failing section predicate hides the section")
	assert.Equal(t, []string{"size", "optional_on_fault", "plain"}, res.Fields["main"], "failing field predicate hides the field")
	assert.Equal(t, []string{"plain"}, res.Required, "failing requirement predicate is not required")

	res = r.Resolve(types.Record{"product_type": "door", "size": 5.0})
	assert.Contains(t, res.Fields["main"], "hidden_on_fault")
	assert.Contains(t, res.Required, "optional_on_fault")
}
