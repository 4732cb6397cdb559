// Package validation implements the confirmation gate: a record may only be
// handed to persistence when every field the resolver currently requires
// holds a value.
package validation

import (
	"context"
	"fmt"
	"strings"

	goskema "github.com/reoring/goskema"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/metrics"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Reasons a field can fail the gate.
const (
	ReasonRequired = "required"
	ReasonMinimum  = "minimum"
	ReasonInteger  = "integer"
	ReasonInvalid  = "invalid"
)

// FieldError addresses one field that blocks confirmation.
type FieldError struct {
	Field   string `json:"field"`
	Label   string `json:"label"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Error is returned by Confirm when at least one field blocks confirmation.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Names returns the offending field names in report order.
func (e *Error) Names() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Field
	}
	return out
}

// Gate checks records at confirmation time.
type Gate struct {
	res    *resolver.Resolver
	logger *zap.Logger
}

// New creates a gate using res.
func New(res *resolver.Resolver, logger *zap.Logger) *Gate {
	return &Gate{res: res, logger: logging.OrNop(logger)}
}

// Check re-resolves rec and returns one entry per required field that is
// empty, in required-set order, followed by visible number fields whose
// value breaks their constraints. An empty result means rec may be confirmed.
func (g *Gate) Check(rec types.Record) []FieldError {
	reg := g.res.Registry()
	res := g.res.Resolve(rec)

	var out []FieldError
	reported := make(map[string]bool)
	for _, name := range res.Required {
		if !rec.IsEmpty(name) {
			continue
		}
		label := labelFor(reg, name)
		out = append(out, FieldError{
			Field:   name,
			Label:   label,
			Reason:  ReasonRequired,
			Message: label + " is required",
		})
		reported[name] = true
	}

	var numbers []string
	for _, name := range res.VisibleFields() {
		if reported[name] || rec.IsEmpty(name) {
			continue
		}
		if f, ok := reg.Field(name); ok && f.Kind == schema.KindNumber {
			numbers = append(numbers, name)
		}
	}
	bad := make(map[string]string)
	for _, ci := range reg.CheckConstraints(context.Background(), rec, numbers) {
		bad[ci.Field] = ci.Code
	}
	for _, name := range numbers {
		code, ok := bad[name]
		if !ok {
			continue
		}
		f, _ := reg.Field(name)
		out = append(out, constraintError(f, name, labelFor(reg, name), code, rec[name]))
	}

	for _, fe := range out {
		metrics.MissingFieldsTotal.WithLabelValues(fe.Field, fe.Reason).Inc()
	}
	if len(out) > 0 {
		g.logger.Debug("record failed validation",
			zap.String("product_type", res.ProductType),
			zap.Int("fields", len(out)),
		)
	}
	return out
}

// Confirm returns a *Error when Check reports anything.
func (g *Gate) Confirm(rec types.Record) error {
	if fields := g.Check(rec); len(fields) > 0 {
		return &Error{Fields: fields}
	}
	return nil
}

func constraintError(f *schema.FieldSpec, name, label, code string, v any) FieldError {
	fe := FieldError{Field: name, Label: label}
	switch {
	case code == goskema.CodeTooSmall && f.Numeric != nil && f.Numeric.Minimum != nil:
		fe.Reason = ReasonMinimum
		fe.Message = fmt.Sprintf("%s must be at least %g", label, *f.Numeric.Minimum)
	case code == goskema.CodeInvalidType && f.Numeric != nil && f.Numeric.IntegerOnly && isNumber(v):
		fe.Reason = ReasonInteger
		fe.Message = label + " must be a whole number"
	default:
		fe.Reason = ReasonInvalid
		fe.Message = label + " must be a number"
	}
	return fe
}

func isNumber(v any) bool {
	_, err := schema.ParseNumber(v)
	return err == nil
}

func labelFor(reg *schema.Registry, name string) string {
	if l := reg.FieldLabel(name); l != "" {
		return l
	}
	return name
}
