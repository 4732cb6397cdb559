// Package alias keeps mirrored fields equal. Each alias group has one
// canonical field; every member of the group always holds the same value.
package alias

import (
	"reflect"

	"github.com/matthewbaird/bidconfig/internal/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// Synchronizer propagates writes across alias groups.
type Synchronizer struct {
	groups  []schema.AliasGroup
	byField map[string]int // member name -> index into groups
}

// New builds a synchronizer from the registry's alias groups.
func New(reg *schema.Registry) *Synchronizer {
	s := &Synchronizer{
		groups:  reg.AliasGroups(),
		byField: make(map[string]int),
	}
	for i, g := range s.groups {
		for _, m := range g.Members {
			s.byField[m] = i
		}
	}
	return s
}

// Group returns the alias group containing name.
func (s *Synchronizer) Group(name string) (schema.AliasGroup, bool) {
	i, ok := s.byField[name]
	if !ok {
		return schema.AliasGroup{}, false
	}
	return s.groups[i], true
}

// Canonical returns the canonical name for name (name itself when it is not
// part of any group).
func (s *Synchronizer) Canonical(name string) string {
	if g, ok := s.Group(name); ok {
		return g.Canonical
	}
	return name
}

// Set writes value to field and to every other member of its alias group.
// Members already holding the value are left alone, so repeating a write
// changes nothing and a mirrored write never bounces back. It returns the
// names whose value changed.
func (s *Synchronizer) Set(rec types.Record, field string, value any) []string {
	g, ok := s.Group(field)
	if !ok {
		if write(rec, field, value) {
			return []string{field}
		}
		return nil
	}
	var changed []string
	for _, m := range g.Members {
		if write(rec, m, value) {
			changed = append(changed, m)
		}
	}
	return changed
}

// Reconcile applies the load-time rule to every group: an empty canonical
// field is back-filled from the first aliased field that holds a value, and
// a set canonical field overwrites any alias that disagrees with it.
func (s *Synchronizer) Reconcile(rec types.Record) []string {
	var changed []string
	for _, g := range s.groups {
		source := g.Canonical
		if rec.IsEmpty(source) {
			source = ""
			for _, alias := range g.Members[1:] {
				if !rec.IsEmpty(alias) {
					source = alias
					break
				}
			}
			if source == "" {
				continue
			}
		}
		value := rec[source]
		for _, m := range g.Members {
			if m == source {
				continue
			}
			if write(rec, m, value) {
				changed = append(changed, m)
			}
		}
	}
	return changed
}

func write(rec types.Record, name string, value any) bool {
	if cur, ok := rec[name]; ok && equal(cur, value) {
		return false
	}
	rec[name] = value
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, tb := reflect.TypeOf(a), reflect.TypeOf(b); ta.Comparable() && tb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
