package schema

import (
	"context"
	"math"
	"testing"

	goskema "github.com/reoring/goskema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/bidconfig/internal/types"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"float", 12.5, 12.5},
		{"int", 7, 7},
		{"int64", int64(-3), -3},
		{"numeric string", " 2000 ", 2000},
		{"zero", 0.0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []any{"tall", true, []any{1}, math.Inf(1)} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestParseValues(t *testing.T) {
	reg := Default()
	ctx := context.Background()

	rec, err := reg.ParseValues(ctx, map[string]any{
		"height":         "2000",
		"product_type":   "door",
		"door_lock_id":   map[string]any{"id": 501.0, "label": "Lock A"},
		"wall_thickness": 120.0,
		"mark":           nil,
	})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, rec["height"])
	assert.Equal(t, "door", rec["product_type"])
	assert.Equal(t, int64(501), rec["door_lock_id"])
	assert.Equal(t, 120.0, rec["wall_thickness"])

	tests := []struct {
		name string
		doc  map[string]any
		code string
		path string
	}{
		{"undeclared key", map[string]any{"colour": "red"}, goskema.CodeUnknownKey, "/colour"},
		{"id field", map[string]any{IDField: 4.0}, goskema.CodeUnknownKey, "/id"},
		{"bad number", map[string]any{"height": "tall"}, goskema.CodeInvalidType, "/height"},
		{"bad choice", map[string]any{"product_type": "garage"}, goskema.CodeInvalidType, "/product_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ParseValues(ctx, tt.doc)
			issues, ok := goskema.AsIssues(err)
			require.True(t, ok, "%v", err)
			require.Len(t, issues, 1)
			assert.Equal(t, tt.code, issues[0].Code)
			assert.Equal(t, tt.path, issues[0].Path)
		})
	}
}

func TestSeedValues_DropsUnreadable(t *testing.T) {
	reg := Default()

	rec, dropped := reg.SeedValues(context.Background(), types.Record{
		IDField:        9.0,
		"height":       2000.0,
		"width":        "wide",
		"product_type": "garage",
		"colour":       "red",
		"quantity":     "2",
	})
	assert.Equal(t, []string{"product_type", "width"}, dropped)
	assert.Equal(t, types.Record{"height": 2000.0, "quantity": 2.0}, rec)
}

func TestCheckConstraints(t *testing.T) {
	reg := Default()
	rec := types.Record{
		"height":    0.0,
		"width":     900.0,
		"quantity":  1.5,
		"box_width": -5.0,
		"mark":      "A1",
	}

	issues := reg.CheckConstraints(context.Background(), rec, []string{"height", "width", "quantity", "box_width", "mark"})
	byField := make(map[string]string, len(issues))
	for _, is := range issues {
		byField[is.Field] = is.Code
	}
	assert.Equal(t, map[string]string{
		"height":    goskema.CodeTooSmall,
		"quantity":  goskema.CodeInvalidType,
		"box_width": goskema.CodeTooSmall,
	}, byField)

	assert.Empty(t, reg.CheckConstraints(context.Background(), types.Record{"quantity": "3"}, []string{"quantity"}))
}
