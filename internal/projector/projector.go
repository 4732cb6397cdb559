// Package projector flattens the visible schema for a product type into the
// ordered list of editable units shared by the single-record editor and the
// bulk sheet.
package projector

import (
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Unit is one editable column.
type Unit struct {
	Field    string           `json:"field"`
	Label    string           `json:"label"`
	Kind     schema.FieldKind `json:"kind"`
	Section  string           `json:"section"`
	Options  []string         `json:"options,omitempty"`
	ReadOnly bool             `json:"read_only,omitempty"`
	Required bool             `json:"required,omitempty"`
}

// Projector derives units through the resolver, so visibility is decided in
// exactly one place.
type Projector struct {
	res *resolver.Resolver
}

// New creates a projector.
func New(res *resolver.Resolver) *Projector {
	return &Projector{res: res}
}

// Project returns the units for pt. The result depends only on the schema and
// pt: it is computed against a record holding nothing but the product type.
func (p *Projector) Project(pt string) []Unit {
	seed := types.Record{}
	if pt != "" {
		seed[schema.ProductTypeField] = pt
	}
	res := p.res.ResolveFor(seed, pt)

	reg := p.res.Registry()
	units := make([]Unit, 0, 16)
	for _, key := range res.Sections {
		section, ok := reg.Section(key)
		if !ok {
			continue
		}
		byName := make(map[string]*schema.FieldSpec, len(section.Fields))
		for _, f := range section.Fields {
			byName[f.Name] = f
		}
		for _, name := range res.Fields[key] {
			f := byName[name]
			units = append(units, Unit{
				Field:    f.Name,
				Label:    f.Label,
				Kind:     f.Kind,
				Section:  key,
				Options:  f.Options,
				ReadOnly: f.ReadOnly,
				Required: res.IsRequired(f.Name),
			})
		}
	}
	return units
}

// Fields returns just the field names of Project(pt).
func (p *Projector) Fields(pt string) []string {
	units := p.Project(pt)
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Field
	}
	return out
}
