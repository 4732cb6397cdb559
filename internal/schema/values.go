package schema

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	goskema "github.com/reoring/goskema"
	"github.com/reoring/goskema/dsl"
	js "github.com/reoring/goskema/jsonschema"

	"github.com/matthewbaird/bidconfig/internal/types"
)

var errNotFinite = errors.New("number is not finite")

// numberValue accepts JSON numbers and numeric strings.
func numberValue() goskema.Schema[stdjson.Number] {
	return dsl.NumberJSON().CoerceFromString()
}

// ParseNumber reads v as a finite number. Go integers from in-process
// callers are accepted alongside JSON numbers and numeric strings.
func ParseNumber(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case float32:
		v = float64(n)
	case string:
		v = strings.TrimSpace(n)
	}
	num, err := numberValue().Parse(context.Background(), v)
	if err != nil {
		return 0, err
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

// fieldValue is the goskema schema of one declared field. Parsing a value
// yields what the session stores for it.
type fieldValue struct{ f *FieldSpec }

func (s fieldValue) Parse(_ context.Context, v any) (any, error) {
	out, err := Coerce(s.f, v)
	if err != nil {
		return nil, goskema.Issues{{Path: "/", Code: goskema.CodeInvalidType, Message: err.Error(), Cause: err}}
	}
	return out, nil
}

func (s fieldValue) ParseWithMeta(ctx context.Context, v any) (goskema.Decoded[any], error) {
	out, err := s.Parse(ctx, v)
	return goskema.Decoded[any]{Value: out, Presence: goskema.PresenceMap{"/": goskema.PresenceSeen}}, err
}

func (s fieldValue) TypeCheck(ctx context.Context, v any) error {
	_, err := s.Parse(ctx, v)
	return err
}

func (fieldValue) RuleCheck(context.Context, any) error { return nil }

func (s fieldValue) Validate(ctx context.Context, v any) error { return s.TypeCheck(ctx, v) }

func (fieldValue) ValidateValue(context.Context, any) error { return nil }

func (s fieldValue) JSONSchema() (*js.Schema, error) {
	switch {
	case s.f.Kind == KindNumber:
		return &js.Schema{Type: "number"}, nil
	case s.f.Kind.IsReference():
		return &js.Schema{Type: "integer"}, nil
	default:
		return &js.Schema{Type: "string"}, nil
	}
}

// constraint returns the adapter enforcing f's numeric constraints on a
// stored value.
func (f *FieldSpec) constraint() dsl.AnyAdapter {
	var ad dsl.AnyAdapter
	if f.Numeric != nil && f.Numeric.IntegerOnly {
		ad = dsl.IntOf[int]()
	} else {
		ad = dsl.SchemaOf[stdjson.Number](numberValue())
	}
	if f.Numeric != nil && f.Numeric.Minimum != nil {
		ad = ad.Min(*f.Numeric.Minimum)
	}
	return ad.Nullable()
}

// documents holds the goskema object schemas derived from the registry.
type documents struct {
	strict      goskema.Schema[map[string]any]
	strip       goskema.Schema[map[string]any]
	constraints goskema.Schema[map[string]any]
}

func (r *Registry) buildDocuments() (documents, error) {
	strict, strip, numbers := dsl.Object(), dsl.Object(), dsl.Object()
	names := make([]string, 0, len(r.fields)+len(r.aliasOf))
	for name := range r.fields {
		names = append(names, name)
	}
	for alias := range r.aliasOf {
		names = append(names, alias)
	}
	sort.Strings(names)
	for _, name := range names {
		f, _ := r.Field(name)
		ad := dsl.SchemaOf[any](fieldValue{f: f})
		strict.Field(name, ad)
		strip.Field(name, ad)
		if f.Kind == KindNumber {
			numbers.Field(name, f.constraint())
		}
	}

	var (
		d   documents
		err error
	)
	if d.strict, err = strict.UnknownStrict().Build(); err != nil {
		return documents{}, fmt.Errorf("schema: building document schema: %w", err)
	}
	if d.strip, err = strip.UnknownStrip().Build(); err != nil {
		return documents{}, fmt.Errorf("schema: building seed schema: %w", err)
	}
	if d.constraints, err = numbers.UnknownStrip().Build(); err != nil {
		return documents{}, fmt.Errorf("schema: building constraint schema: %w", err)
	}
	return d, nil
}

// ParseValues coerces a document of field edits. Every key must be a
// declared field or alias. The returned error is a goskema.Issues whose
// paths name the offending keys.
func (r *Registry) ParseValues(ctx context.Context, doc map[string]any) (types.Record, error) {
	if _, ok := doc[IDField]; ok {
		return nil, goskema.Issues{{Path: "/" + IDField, Code: goskema.CodeUnknownKey, Message: "the id field cannot be edited"}}
	}
	out, err := r.docs.strict.Parse(ctx, doc)
	if err != nil {
		return nil, err
	}
	return types.Record(out), nil
}

// SeedValues coerces a seed record. Undeclared keys, including the id
// field, are dropped, as are values their field cannot hold; the dropped
// value keys are returned.
func (r *Registry) SeedValues(ctx context.Context, doc map[string]any) (types.Record, []string) {
	in := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != IDField {
			in[k] = v
		}
	}
	var dropped []string
	for {
		out, err := r.docs.strip.Parse(ctx, in)
		if err == nil {
			sort.Strings(dropped)
			return types.Record(out), dropped
		}
		issues, ok := goskema.AsIssues(err)
		if !ok {
			return types.Record{}, dropped
		}
		removed := 0
		for _, is := range issues {
			key := issueField(is)
			if _, present := in[key]; present {
				delete(in, key)
				dropped = append(dropped, key)
				removed++
			}
		}
		if removed == 0 {
			return types.Record{}, dropped
		}
	}
}

// ConstraintIssue is a number field whose stored value breaks its
// declared constraints.
type ConstraintIssue struct {
	Field string
	Code  string
}

// CheckConstraints validates the named number fields of rec against their
// numeric constraints and returns one entry per failing field.
func (r *Registry) CheckConstraints(ctx context.Context, rec types.Record, names []string) []ConstraintIssue {
	doc := make(map[string]any, len(names))
	for _, name := range names {
		f, ok := r.Field(name)
		if !ok || f.Kind != KindNumber {
			continue
		}
		v := rec[name]
		if n, err := ParseNumber(v); err == nil {
			v = n
		}
		doc[name] = v
	}
	if len(doc) == 0 {
		return nil
	}
	_, err := r.docs.constraints.Parse(ctx, doc)
	if err == nil {
		return nil
	}
	issues, ok := goskema.AsIssues(err)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(issues))
	out := make([]ConstraintIssue, 0, len(issues))
	for _, is := range issues {
		name := issueField(is)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, ConstraintIssue{Field: name, Code: is.Code})
	}
	return out
}

// issueField returns the top-level key an issue points at.
func issueField(is goskema.Issue) string {
	p := strings.TrimPrefix(is.Path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
