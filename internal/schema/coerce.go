package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// ErrInvalidValue is returned by Coerce when a value cannot be stored in a field.
var ErrInvalidValue = errors.New("invalid value")

// Coerce converts an incoming value into the representation the engine keeps
// for the field: float64 for numbers, int64 identifiers for references,
// strings for text and choices. Empty input becomes nil.
func Coerce(f *FieldSpec, v any) (any, error) {
	if types.IsEmptyValue(v) {
		return nil, nil
	}
	switch {
	case f.Kind == KindNumber:
		n, err := ParseNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: want a number", f.Name, ErrInvalidValue)
		}
		return n, nil
	case f.Kind.IsReference():
		id, ok := ReferenceID(v)
		if !ok {
			return nil, fmt.Errorf("%s: %w: want a reference identifier", f.Name, ErrInvalidValue)
		}
		return id, nil
	case f.Kind == KindChoice:
		s := types.Record{"v": v}.String("v")
		if !contains(f.Options, s) {
			return nil, fmt.Errorf("%s: %w: %q is not one of %s", f.Name, ErrInvalidValue, s, strings.Join(f.Options, ", "))
		}
		return s, nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		s := types.Record{"v": v}.String("v")
		if s == "" {
			return nil, fmt.Errorf("%s: %w: want text", f.Name, ErrInvalidValue)
		}
		return s, nil
	}
}

// ReferenceID extracts a bare catalog identifier from the shapes a reference
// value arrives in: a number, a numeric string, or an object with an "id".
func ReferenceID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return id, err == nil
	case map[string]any:
		inner, ok := t["id"]
		if !ok {
			return 0, false
		}
		return ReferenceID(inner)
	case types.Reference:
		return t.ID, true
	case *types.Reference:
		if t == nil {
			return 0, false
		}
		return t.ID, true
	default:
		return 0, false
	}
}

// ReferenceLabel returns the display label carried by an object-shaped
// reference value, if any.
func ReferenceLabel(v any) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"label", "name", "title"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s, true
			}
		}
	case types.Reference:
		return t.Label, t.Label != ""
	case *types.Reference:
		if t != nil && t.Label != "" {
			return t.Label, true
		}
	}
	return "", false
}
