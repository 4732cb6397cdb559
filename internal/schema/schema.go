// Package schema holds the declarative description of a transaction: every
// field, every section, the product types that select between them, and the
// per-product-type profiles derived from that data.
//
// The registry is built once at startup (see Default) and is read-only
// afterwards, so it is safe for concurrent use.
package schema

import (
	"fmt"

	"github.com/matthewbaird/bidconfig/internal/types"
)

// FieldKind classifies how a field's value is stored and edited.
type FieldKind string

const (
	KindText           FieldKind = "text"
	KindNumber         FieldKind = "number"
	KindChoice         FieldKind = "choice"
	KindReference      FieldKind = "reference"
	KindReferenceImage FieldKind = "reference-image"
)

// IsReference reports whether values of this kind are catalog identifiers.
func (k FieldKind) IsReference() bool {
	return k == KindReference || k == KindReferenceImage
}

// ProductTypeField is the canonical field holding the product type.
const ProductTypeField = "product_type"

// IDField holds the persisted numeric identifier once a transaction is saved.
const IDField = "id"

// NumericConstraints bound a number field.
type NumericConstraints struct {
	Minimum     *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	IntegerOnly bool     `json:"integer_only,omitempty" yaml:"integer_only,omitempty"`
}

// ReferenceSpec describes how to look up candidates for a reference field.
// Params are sent as-is; ParamFields copy the named record field into the
// named parameter when the field is set.
type ReferenceSpec struct {
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	ParamFields map[string]string `json:"param_fields,omitempty" yaml:"param_fields,omitempty"`
}

// FieldSpec is one editable attribute of a transaction.
type FieldSpec struct {
	Name      string              `json:"name" yaml:"name"`
	Label     string              `json:"label" yaml:"label"`
	Kind      FieldKind           `json:"kind" yaml:"kind"`
	Default   any                 `json:"default,omitempty" yaml:"default,omitempty"`
	Options   []string            `json:"options,omitempty" yaml:"options,omitempty"`
	Aliases   []string            `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Visible   *Condition          `json:"visible,omitempty" yaml:"visible,omitempty"`
	Required  *Condition          `json:"required,omitempty" yaml:"required,omitempty"`
	Numeric   *NumericConstraints `json:"numeric,omitempty" yaml:"numeric,omitempty"`
	Reference *ReferenceSpec      `json:"reference,omitempty" yaml:"reference,omitempty"`
	ReadOnly  bool                `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// SectionSpec is a named, ordered group of fields.
type SectionSpec struct {
	Key                 string       `json:"key" yaml:"key"`
	Title               string       `json:"title" yaml:"title"`
	Fields              []*FieldSpec `json:"fields" yaml:"fields"`
	AllowedProductTypes []string     `json:"allowed_product_types,omitempty" yaml:"allowed_product_types,omitempty"`
	Visible             *Condition   `json:"visible,omitempty" yaml:"visible,omitempty"`
}

// AllowsProductType reports whether the section is considered for pt.
// Sections without a restriction are considered for every product type,
// including none.
func (s *SectionSpec) AllowsProductType(pt string) bool {
	if len(s.AllowedProductTypes) == 0 {
		return true
	}
	return contains(s.AllowedProductTypes, pt)
}

// ProductType is one selectable kind of manufactured unit.
type ProductType struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Profile is the derived view of the registry for one product type.
type Profile struct {
	ProductType           string
	Sections              []*SectionSpec
	RequiredFields        []string
	ConditionallyRequired map[string]*Condition
	// ConditionalOrder lists ConditionallyRequired keys in declaration order.
	ConditionalOrder []string
}

// AliasGroup is a canonical field and the legacy names that mirror it.
type AliasGroup struct {
	Canonical string   `json:"canonical" yaml:"canonical"`
	Members   []string `json:"members" yaml:"members"` // canonical first
}

// Registry is the read-only table of all fields and sections.
type Registry struct {
	productTypes []ProductType
	measurements []*FieldSpec
	sections     []*SectionSpec

	fields      map[string]*FieldSpec // first declaration wins
	aliasOf     map[string]string     // alias name -> canonical name
	aliasGroups []AliasGroup
	profiles    map[string]*Profile
	docs        documents
}

// New builds a registry from declarative data, validating it and deriving
// alias groups and product-type profiles.
func New(productTypes []ProductType, measurements []*FieldSpec, sections []*SectionSpec) (*Registry, error) {
	r := &Registry{
		productTypes: productTypes,
		measurements: measurements,
		sections:     sections,
		fields:       make(map[string]*FieldSpec),
		aliasOf:      make(map[string]string),
		profiles:     make(map[string]*Profile, len(productTypes)),
	}
	if err := r.index(); err != nil {
		return nil, err
	}
	for _, pt := range productTypes {
		r.profiles[pt.Key] = r.buildProfile(pt.Key)
	}
	docs, err := r.buildDocuments()
	if err != nil {
		return nil, err
	}
	r.docs = docs
	return r, nil
}

func (r *Registry) index() error {
	add := func(f *FieldSpec) error {
		if f.Name == "" {
			return fmt.Errorf("schema: field with empty name")
		}
		if f.Kind == KindChoice && len(f.Options) == 0 {
			return fmt.Errorf("schema: choice field %s has no options", f.Name)
		}
		if _, exists := r.fields[f.Name]; !exists {
			r.fields[f.Name] = f
		}
		return nil
	}

	for _, f := range r.measurements {
		if err := add(f); err != nil {
			return err
		}
	}
	seenSections := make(map[string]bool, len(r.sections))
	for _, s := range r.sections {
		if seenSections[s.Key] {
			return fmt.Errorf("schema: duplicate section %s", s.Key)
		}
		seenSections[s.Key] = true
		inSection := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			if inSection[f.Name] {
				return fmt.Errorf("schema: field %s declared twice in section %s", f.Name, s.Key)
			}
			inSection[f.Name] = true
			if err := add(f); err != nil {
				return err
			}
		}
	}

	// Aliases are indexed after all fields so collisions are detectable.
	for _, f := range r.allFields() {
		if len(f.Aliases) == 0 || r.fields[f.Name] != f {
			continue
		}
		group := AliasGroup{Canonical: f.Name, Members: []string{f.Name}}
		for _, a := range f.Aliases {
			if _, isField := r.fields[a]; isField {
				return fmt.Errorf("schema: alias %s of %s collides with a declared field", a, f.Name)
			}
			if other, taken := r.aliasOf[a]; taken {
				return fmt.Errorf("schema: alias %s claimed by both %s and %s", a, other, f.Name)
			}
			r.aliasOf[a] = f.Name
			group.Members = append(group.Members, a)
		}
		r.aliasGroups = append(r.aliasGroups, group)
	}
	return nil
}

func (r *Registry) allFields() []*FieldSpec {
	out := make([]*FieldSpec, 0, len(r.fields))
	out = append(out, r.measurements...)
	for _, s := range r.sections {
		out = append(out, s.Fields...)
	}
	return out
}

func (r *Registry) buildProfile(pt string) *Profile {
	p := &Profile{
		ProductType:           pt,
		Sections:              r.SectionsForProductType(pt),
		ConditionallyRequired: make(map[string]*Condition),
	}
	seen := make(map[string]bool)
	for _, s := range p.Sections {
		for _, f := range s.Fields {
			if seen[f.Name] || f.Required == nil {
				continue
			}
			seen[f.Name] = true
			if v, constant := f.Required.IsConstant(); constant {
				if v {
					p.RequiredFields = append(p.RequiredFields, f.Name)
				}
				continue
			}
			p.ConditionallyRequired[f.Name] = f.Required
			p.ConditionalOrder = append(p.ConditionalOrder, f.Name)
		}
	}
	return p
}

// SectionsForProductType returns the sections allowed for pt in declaration
// order. Sections without a product-type restriction are always included.
func (r *Registry) SectionsForProductType(pt string) []*SectionSpec {
	var out []*SectionSpec
	for _, s := range r.sections {
		if s.AllowsProductType(pt) {
			out = append(out, s)
		}
	}
	return out
}

// FieldLabel returns the human label for name, searching the measurement
// fields first and then section fields, in declaration order. An alias
// resolves to its canonical field's label. Unknown names return "".
func (r *Registry) FieldLabel(name string) string {
	if canonical, ok := r.aliasOf[name]; ok {
		name = canonical
	}
	for _, f := range r.measurements {
		if f.Name == name {
			return f.Label
		}
	}
	for _, s := range r.sections {
		for _, f := range s.Fields {
			if f.Name == name {
				return f.Label
			}
		}
	}
	return ""
}

// Field returns the spec for name, following aliases to the canonical field.
func (r *Registry) Field(name string) (*FieldSpec, bool) {
	if canonical, ok := r.aliasOf[name]; ok {
		name = canonical
	}
	f, ok := r.fields[name]
	return f, ok
}

// Has reports whether name is a declared field, an alias, or the id field.
func (r *Registry) Has(name string) bool {
	if name == IDField {
		return true
	}
	_, ok := r.Field(name)
	return ok
}

// Profile returns the prebuilt profile for a declared product type.
func (r *Registry) Profile(pt string) (*Profile, bool) {
	p, ok := r.profiles[pt]
	return p, ok
}

// ProductTypes returns all declared product types in declaration order.
func (r *Registry) ProductTypes() []ProductType { return r.productTypes }

// HasProductType reports whether pt is declared.
func (r *Registry) HasProductType(pt string) bool {
	_, ok := r.profiles[pt]
	return ok
}

// Sections returns every section in declaration order.
func (r *Registry) Sections() []*SectionSpec { return r.sections }

// Section returns a section by key.
func (r *Registry) Section(key string) (*SectionSpec, bool) {
	for _, s := range r.sections {
		if s.Key == key {
			return s, true
		}
	}
	return nil, false
}

// MeasurementFields returns the always-present measurement fields.
func (r *Registry) MeasurementFields() []*FieldSpec { return r.measurements }

// AliasGroups returns every alias group in declaration order.
func (r *Registry) AliasGroups() []AliasGroup { return r.aliasGroups }

// CanonicalName maps an alias to its canonical field; other names pass through.
func (r *Registry) CanonicalName(name string) string {
	if canonical, ok := r.aliasOf[name]; ok {
		return canonical
	}
	return name
}

// ReferenceParams returns the catalog filter parameters for a reference field
// given the current record. Non-reference fields return nil.
func (r *Registry) ReferenceParams(name string, rec types.Record, pt string) map[string]string {
	f, ok := r.Field(name)
	if !ok || !f.Kind.IsReference() || f.Reference == nil {
		return nil
	}
	params := make(map[string]string, len(f.Reference.Params)+len(f.Reference.ParamFields)+1)
	for k, v := range f.Reference.Params {
		params[k] = v
	}
	for param, field := range f.Reference.ParamFields {
		if !rec.IsEmpty(field) {
			params[param] = rec.String(field)
		}
	}
	if pt != "" {
		params["product_type"] = pt
	}
	return params
}

// Snapshot is the serialisable form of the registry.
type Snapshot struct {
	ProductTypes []ProductType  `json:"product_types" yaml:"product_types"`
	Measurements []*FieldSpec   `json:"measurements" yaml:"measurements"`
	Sections     []*SectionSpec `json:"sections" yaml:"sections"`
	AliasGroups  []AliasGroup   `json:"alias_groups" yaml:"alias_groups"`
}

// Snapshot returns the registry as plain data.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		ProductTypes: r.productTypes,
		Measurements: r.measurements,
		Sections:     r.sections,
		AliasGroups:  r.aliasGroups,
	}
}
