// Package types provides the value types shared across the configuration engine:
// the open transaction record, catalog references, and activity feed entries.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one in-progress transaction: field name -> value. Values are
// scalars (string, float64, int64, bool) or nil once normalised by the engine.
type Record map[string]any

// Clone returns a shallow copy. Values are scalars, so a shallow copy is a
// full copy for every record the engine produces.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether the named field is absent or holds an empty value.
func (r Record) IsEmpty(name string) bool {
	v, ok := r[name]
	if !ok {
		return true
	}
	return IsEmptyValue(v)
}

// String returns the field rendered as a string, or "" when empty.
func (r Record) String(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Number returns the field as a float64. ok is false when the value is empty
// or cannot be read as a number.
func (r Record) Number(name string) (float64, bool) {
	return ToNumber(r[name])
}

// IsEmptyValue reports whether v counts as "not filled in": nil, a blank
// string, or an empty collection. Zero numbers are values, not blanks.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// ToNumber converts the numeric shapes that arrive from JSON, forms, and the
// database into a float64.
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Reference is one candidate returned by the catalog for a reference-lookup
// field.
type Reference struct {
	ID       int64          `json:"id"`
	Label    string         `json:"label"`
	Category string         `json:"category"`
	ImageURL string         `json:"image_url,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// SourceRef identifies an entity affected by a domain event.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "context", "related"
}

// ActivityEntry is one row of the activity feed: a domain event indexed
// under one of the entities it affected.
type ActivityEntry struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	IndexedEntityType string          `json:"indexed_entity_type"`
	IndexedEntityID   string          `json:"indexed_entity_id"`
	EntityRole        string          `json:"entity_role"`
	SourceRefs        []SourceRef     `json:"source_refs"`
	Summary           string          `json:"summary"`
	Category          string          `json:"category"`
	Severity          string          `json:"severity"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}
