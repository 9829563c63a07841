package schema

import (
	"sort"

	"github.com/rpattn/entityapi/internal/domain"
)

// PropertyNameIndex summarizes how one property name is declared across every
// class of the schema.
type PropertyNameIndex struct {
	Name string
	// Classes (entity section) where the property is computed by an on-read trigger.
	TriggerClasses StringSet
	// Classes (entity section) where the property is read from storage.
	GraphClasses StringSet
	JSONClasses  StringSet
	ListClasses  StringSet
	// Union of declared dependency properties across classes.
	Dependencies StringSet
	// Activity is set when the property belongs to the activity class.
	Activity *PropertyRule
}

// StringSet is a small set of strings.
type StringSet map[string]struct{}

// NewStringSet builds a set from values.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts values.
func (s StringSet) Add(values ...string) {
	for _, v := range values {
		s[v] = struct{}{}
	}
}

// Has reports membership.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Union adds every member of other.
func (s StringSet) Union(other StringSet) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Sorted returns members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) buildIndex() {
	c.index = make(map[string]*PropertyNameIndex)
	entry := func(name string) *PropertyNameIndex {
		idx, ok := c.index[name]
		if !ok {
			idx = &PropertyNameIndex{
				Name:           name,
				TriggerClasses: NewStringSet(),
				GraphClasses:   NewStringSet(),
				JSONClasses:    NewStringSet(),
				ListClasses:    NewStringSet(),
				Dependencies:   NewStringSet(),
			}
			c.index[name] = idx
		}
		return idx
	}

	for _, className := range c.classOrder {
		cls := c.classes[className]
		for _, rule := range cls.effective.Rules() {
			idx := entry(rule.Name)
			idx.Dependencies.Add(rule.DependencyProperties...)
			if cls.Provenance == domain.ProvenanceActivities {
				if className == c.activityClass {
					idx.Activity = rule
				}
				continue
			}
			if rule.IsTriggerBacked() {
				idx.TriggerClasses.Add(className)
			}
			if rule.IsGraphBacked() {
				idx.GraphClasses.Add(className)
			}
			switch rule.Type {
			case TypeJSONString:
				idx.JSONClasses.Add(className)
			case TypeList:
				idx.ListClasses.Add(className)
			}
		}
	}
}

// IndexFor returns the index entry for a property name.
func (c *Catalog) IndexFor(name string) (*PropertyNameIndex, bool) {
	idx, ok := c.index[name]
	return idx, ok
}

// PropertyNames returns every indexed property name in lexical order.
func (c *Catalog) PropertyNames() []string {
	out := make([]string, 0, len(c.index))
	for name := range c.index {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
