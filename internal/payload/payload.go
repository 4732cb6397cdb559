// Package payload produces the flattened record handed to persistence.
package payload

import (
	"maps"
	"math"
	"slices"

	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Normalize returns a copy of rec ready to persist. Reference fields are
// reduced to a bare int64 identifier and number fields to a float64; either
// becomes an explicit nil when the value is empty or unreadable. Keys the
// registry does not declare are dropped. Alias members are stored under
// their canonical name only, and only when the canonical key is absent.
func Normalize(reg *schema.Registry, rec types.Record) types.Record {
	out := make(types.Record, len(rec))
	for _, key := range slices.Sorted(maps.Keys(rec)) {
		v := rec[key]
		if key == schema.IDField {
			if id, ok := schema.ReferenceID(v); ok {
				out[key] = id
			}
			continue
		}
		f, ok := reg.Field(key)
		if !ok {
			continue
		}
		if f.Name != key {
			if _, set := out[f.Name]; set {
				continue
			}
			if _, has := rec[f.Name]; has {
				continue
			}
		}
		out[f.Name] = normalizeValue(f, v)
	}
	return out
}

func normalizeValue(f *schema.FieldSpec, v any) any {
	if types.IsEmptyValue(v) {
		return nil
	}
	switch {
	case f.Kind == schema.KindNumber:
		n, ok := types.ToNumber(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return n
	case f.Kind.IsReference():
		if id, ok := schema.ReferenceID(v); ok {
			return id
		}
		return nil
	default:
		return types.Record{f.Name: v}.String(f.Name)
	}
}
