package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// ConditionKind tags the variant held by a Condition.
type ConditionKind string

const (
	CondAlways      ConditionKind = "always"
	CondNever       ConditionKind = "never"
	CondEquals      ConditionKind = "equals"
	CondNotEquals   ConditionKind = "not_equals"
	CondIn          ConditionKind = "in"
	CondPresent     ConditionKind = "present"
	CondCompare     ConditionKind = "compare"
	CondProductType ConditionKind = "product_type"
	CondAll         ConditionKind = "all"
	CondAny         ConditionKind = "any"
	CondNot         ConditionKind = "not"
)

// ErrNotNumeric is returned when a numeric comparison meets a value that is
// set but cannot be read as a number.
var ErrNotNumeric = errors.New("value is not numeric")

// Condition is a visibility or requirement predicate stored as data. A nil
// *Condition evaluates to true.
type Condition struct {
	Kind       ConditionKind `json:"kind" yaml:"kind"`
	Field      string        `json:"field,omitempty" yaml:"field,omitempty"`
	Value      string        `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []string      `json:"values,omitempty" yaml:"values,omitempty"`
	Op         string        `json:"op,omitempty" yaml:"op,omitempty"`
	Number     float64       `json:"number,omitempty" yaml:"number,omitempty"`
	Conditions []*Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func Always() *Condition { return &Condition{Kind: CondAlways} }
func Never() *Condition  { return &Condition{Kind: CondNever} }

// Equals holds when the field's value, rendered as a string, equals value.
func Equals(field, value string) *Condition {
	return &Condition{Kind: CondEquals, Field: field, Value: value}
}

// NotEquals holds when the field is empty or differs from value.
func NotEquals(field, value string) *Condition {
	return &Condition{Kind: CondNotEquals, Field: field, Value: value}
}

// In holds when the field's value is one of values.
func In(field string, values ...string) *Condition {
	return &Condition{Kind: CondIn, Field: field, Values: values}
}

// Present holds when the field holds a non-empty value.
func Present(field string) *Condition {
	return &Condition{Kind: CondPresent, Field: field}
}

// Compare holds when "field op n" is true. An unset field compares false; a
// set but non-numeric field is an evaluation error.
func Compare(field, op string, n float64) *Condition {
	return &Condition{Kind: CondCompare, Field: field, Op: op, Number: n}
}

// ProductTypeIn holds when the resolved product type is one of values.
func ProductTypeIn(values ...string) *Condition {
	return &Condition{Kind: CondProductType, Values: values}
}

func All(conds ...*Condition) *Condition { return &Condition{Kind: CondAll, Conditions: conds} }
func Any(conds ...*Condition) *Condition { return &Condition{Kind: CondAny, Conditions: conds} }
func Not(cond *Condition) *Condition {
	return &Condition{Kind: CondNot, Conditions: []*Condition{cond}}
}

// IsConstant reports whether the condition is a bare always/never, and its value.
func (c *Condition) IsConstant() (value, ok bool) {
	if c == nil {
		return true, true
	}
	switch c.Kind {
	case CondAlways:
		return true, true
	case CondNever:
		return false, true
	}
	return false, false
}

// Eval evaluates the condition against a record under the given product type.
// Callers decide what an error means: the resolver hides fields whose
// visibility fails and treats a failing requirement as "not required".
func (c *Condition) Eval(r types.Record, productType string) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Kind {
	case CondAlways:
		return true, nil
	case CondNever:
		return false, nil
	case CondEquals:
		return !r.IsEmpty(c.Field) && r.String(c.Field) == c.Value, nil
	case CondNotEquals:
		return r.IsEmpty(c.Field) || r.String(c.Field) != c.Value, nil
	case CondIn:
		if r.IsEmpty(c.Field) {
			return false, nil
		}
		return contains(c.Values, r.String(c.Field)), nil
	case CondPresent:
		return !r.IsEmpty(c.Field), nil
	case CondCompare:
		return c.compare(r)
	case CondProductType:
		return contains(c.Values, productType), nil
	case CondAll:
		for _, sub := range c.Conditions {
			ok, err := sub.Eval(r, productType)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case CondAny:
		for _, sub := range c.Conditions {
			ok, err := sub.Eval(r, productType)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case CondNot:
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("not: want 1 condition, got %d", len(c.Conditions))
		}
		ok, err := c.Conditions[0].Eval(r, productType)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func (c *Condition) compare(r types.Record) (bool, error) {
	if r.IsEmpty(c.Field) {
		return false, nil
	}
	v, ok := r.Number(c.Field)
	if !ok {
		return false, fmt.Errorf("compare %s: %w", c.Field, ErrNotNumeric)
	}
	switch c.Op {
	case "<":
		return v < c.Number, nil
	case "<=":
		return v <= c.Number, nil
	case ">":
		return v > c.Number, nil
	case ">=":
		return v >= c.Number, nil
	case "==":
		return v == c.Number, nil
	case "!=":
		return v != c.Number, nil
	default:
		return false, fmt.Errorf("compare %s: unknown operator %q", c.Field, c.Op)
	}
}

// String renders the condition in a compact human-readable form.
func (c *Condition) String() string {
	if c == nil {
		return "always"
	}
	switch c.Kind {
	case CondEquals:
		return c.Field + " == " + c.Value
	case CondNotEquals:
		return c.Field + " != " + c.Value
	case CondIn:
		return c.Field + " in [" + strings.Join(c.Values, ", ") + "]"
	case CondPresent:
		return c.Field + " present"
	case CondCompare:
		return c.Field + " " + c.Op + " " + strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CondProductType:
		return "product_type in [" + strings.Join(c.Values, ", ") + "]"
	case CondAll, CondAny:
		parts := make([]string, len(c.Conditions))
		for i, sub := range c.Conditions {
			parts[i] = sub.String()
		}
		sep := " and "
		if c.Kind == CondAny {
			sep = " or "
		}
		return "(" + strings.Join(parts, sep) + ")"
	case CondNot:
		if len(c.Conditions) == 1 {
			return "not " + c.Conditions[0].String()
		}
		return "not ?"
	default:
		return string(c.Kind)
	}
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
