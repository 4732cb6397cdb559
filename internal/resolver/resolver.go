// Package resolver computes, for any record, which sections and fields are
// visible and which fields must be filled in.
//
// Predicate faults never escape: a visibility predicate that fails hides
// its section or field, and a requirement predicate that fails makes its
// field optional. The validation gate depends on both rules.
package resolver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Resolution is the effective shape of a record.
type Resolution struct {
	ProductType string              `json:"product_type"`
	Sections    []string            `json:"sections"`
	Fields      map[string][]string `json:"fields"`   // section key -> visible field names
	Required    []string            `json:"required"` // declaration order, no duplicates
}

// IsRequired reports whether name is in the required set.
func (r Resolution) IsRequired(name string) bool {
	for _, n := range r.Required {
		if n == name {
			return true
		}
	}
	return false
}

// IsVisible reports whether name is visible in any visible section.
func (r Resolution) IsVisible(name string) bool {
	for _, key := range r.Sections {
		for _, f := range r.Fields[key] {
			if f == name {
				return true
			}
		}
	}
	return false
}

// VisibleFields flattens the visible fields in section order.
func (r Resolution) VisibleFields() []string {
	var out []string
	for _, key := range r.Sections {
		out = append(out, r.Fields[key]...)
	}
	return out
}

// Resolver evaluates the registry against records.
type Resolver struct {
	reg            *schema.Registry
	globalRequired []string
	logger         *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGlobalRequired sets fields that are required regardless of product type.
func WithGlobalRequired(names ...string) Option {
	return func(r *Resolver) { r.globalRequired = append([]string(nil), names...) }
}

// WithLogger sets the logger used for predicate faults.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a resolver over reg.
func New(reg *schema.Registry, opts ...Option) *Resolver {
	r := &Resolver{reg: reg}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Registry returns the registry the resolver evaluates.
func (r *Resolver) Registry() *schema.Registry { return r.reg }

// ProductType reads the product type from the record: the canonical field,
// falling back to its aliases when the canonical field is empty.
func (r *Resolver) ProductType(rec types.Record) string {
	if !rec.IsEmpty(schema.ProductTypeField) {
		return rec.String(schema.ProductTypeField)
	}
	for _, g := range r.reg.AliasGroups() {
		if g.Canonical != schema.ProductTypeField {
			continue
		}
		for _, alias := range g.Members[1:] {
			if !rec.IsEmpty(alias) {
				return rec.String(alias)
			}
		}
	}
	return ""
}

// Resolve computes the resolution using the record's own product type.
func (r *Resolver) Resolve(rec types.Record) Resolution {
	return r.ResolveFor(rec, r.ProductType(rec))
}

// ResolveFor computes the resolution under an explicit product type.
func (r *Resolver) ResolveFor(rec types.Record, pt string) Resolution {
	res := Resolution{
		ProductType: pt,
		Sections:    []string{},
		Fields:      make(map[string][]string),
		Required:    []string{},
	}

	for _, s := range r.reg.SectionsForProductType(pt) {
		if !r.visible(s.Visible, rec, pt, "section", s.Key) {
			continue
		}
		fields := []string{}
		for _, f := range s.Fields {
			if r.visible(f.Visible, rec, pt, "field", f.Name) {
				fields = append(fields, f.Name)
			}
		}
		res.Sections = append(res.Sections, s.Key)
		res.Fields[s.Key] = fields
	}

	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			res.Required = append(res.Required, name)
		}
	}
	if profile, ok := r.reg.Profile(pt); ok {
		for _, name := range profile.RequiredFields {
			add(name)
		}
		for _, name := range profile.ConditionalOrder {
			if r.required(profile.ConditionallyRequired[name], rec, pt, name) {
				add(name)
			}
		}
	}
	for _, name := range r.globalRequired {
		add(name)
	}
	return res
}

// visible evaluates a visibility predicate, failing closed.
func (r *Resolver) visible(c *schema.Condition, rec types.Record, pt, what, name string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("visibility predicate panicked; hiding",
				zap.String(what, name), zap.String("panic", fmt.Sprint(p)))
			ok = false
		}
	}()
	v, err := c.Eval(rec, pt)
	if err != nil {
		r.logger.Debug("visibility predicate failed; hiding",
			zap.String(what, name), zap.Stringer("condition", c), zap.Error(err))
		return false
	}
	return v
}

// required evaluates a requirement predicate, failing open.
func (r *Resolver) required(c *schema.Condition, rec types.Record, pt, name string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("requirement predicate panicked; not required",
				zap.String("field", name), zap.String("panic", fmt.Sprint(p)))
			ok = false
		}
	}()
	v, err := c.Eval(rec, pt)
	if err != nil {
		r.logger.Debug("requirement predicate failed; not required",
			zap.String("field", name), zap.Stringer("condition", c), zap.Error(err))
		return false
	}
	return v
}
