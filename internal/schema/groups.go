package schema

import (
	"github.com/rpattn/entityapi/internal/domain"
)

// universalDefaults are always returned and short-circuit property grouping.
var universalDefaults = []string{
	domain.KeyUUID,
	domain.KeyEntityType,
	domain.KeyGroupUUID,
	domain.KeyGroupName,
}

// classDefaults extends universalDefaults per entity class. Subclasses inherit
// the defaults of their ancestors.
var classDefaults = map[string][]string{
	domain.ClassSource:  {domain.KeySourceType},
	domain.ClassSample:  {domain.KeySampleCategory},
	domain.ClassDataset: {domain.KeyDatasetType, domain.KeyStatus},
	domain.ClassUpload:  {domain.KeyStatus},
}

// PropertyGroups partitions a property selection by how each property is
// produced.
type PropertyGroups struct {
	Graph            StringSet
	Trigger          StringSet
	JSON             StringSet
	List             StringSet
	Dependencies     StringSet
	ActivityGraph    StringSet
	ActivityJSONList StringSet
}

func newPropertyGroups() PropertyGroups {
	return PropertyGroups{
		Graph:            NewStringSet(),
		Trigger:          NewStringSet(),
		JSON:             NewStringSet(),
		List:             NewStringSet(),
		Dependencies:     NewStringSet(),
		ActivityGraph:    NewStringSet(),
		ActivityJSONList: NewStringSet(),
	}
}

// NeedsTrigger reports whether an on-read trigger for name must run to satisfy
// the selection (requested directly or as a dependency).
func (g PropertyGroups) NeedsTrigger(name string) bool {
	return g.Trigger.Has(name) || g.Dependencies.Has(name)
}

// DefaultProperties returns the always-included properties for class.
func (c *Catalog) DefaultProperties(class string) []string {
	out := append([]string(nil), universalDefaults...)
	canonical, ok := c.NormalizeClass(class)
	if !ok {
		return out
	}
	seen := NewStringSet(out...)
	for name := canonical; name != ""; name = c.classes[name].Superclass {
		for _, p := range classDefaults[name] {
			if !seen.Has(p) {
				seen.Add(p)
				out = append(out, p)
			}
		}
	}
	return out
}

// IsDefaultProperty reports whether name is always included for class.
func (c *Catalog) IsDefaultProperty(class, name string) bool {
	for _, p := range c.DefaultProperties(class) {
		if p == name {
			return true
		}
	}
	return false
}

// ResolveGroups partitions the filter's properties for class. With
// FilterInclude the named properties are grouped; with FilterExclude the
// class's effective properties minus the named ones are grouped.
func (c *Catalog) ResolveGroups(class string, filter domain.PropertyFilter) (PropertyGroups, error) {
	groups := newPropertyGroups()
	props, err := c.EffectiveProperties(class)
	if err != nil {
		return groups, err
	}

	if filter.Mode == domain.FilterInclude && len(filter.Properties) == 1 && c.IsDefaultProperty(class, filter.Properties[0]) {
		groups.Graph.Add(filter.Properties[0])
		return groups, nil
	}

	var names []string
	if filter.Mode == domain.FilterExclude {
		excluded := NewStringSet(filter.Properties...)
		for _, name := range props.Names() {
			if !excluded.Has(name) {
				names = append(names, name)
			}
		}
		for _, name := range c.ActivityProperties().Names() {
			if !excluded.Has(name) && !props.Has(name) {
				names = append(names, name)
			}
		}
	} else {
		names = filter.Properties
	}

	for _, name := range names {
		idx, ok := c.index[name]
		if !ok {
			continue
		}
		if idx.Activity != nil {
			if !idx.Activity.IsTriggerBacked() && !idx.Activity.Transient {
				groups.ActivityGraph.Add(name)
			}
			if idx.Activity.IsEncoded() {
				groups.ActivityJSONList.Add(name)
			}
		}
		if len(idx.TriggerClasses) > 0 {
			groups.Trigger.Add(name)
		}
		if len(idx.GraphClasses) > 0 {
			groups.Graph.Add(name)
		}
		if len(idx.JSONClasses) > 0 {
			groups.JSON.Add(name)
		}
		if len(idx.ListClasses) > 0 {
			groups.List.Add(name)
		}
		c.expandDependencies(idx, groups.Dependencies)
	}
	return groups, nil
}

// expandDependencies adds the transitive dependency closure of idx to out.
func (c *Catalog) expandDependencies(idx *PropertyNameIndex, out StringSet) {
	stack := idx.Dependencies.Sorted()
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out.Has(name) {
			continue
		}
		out.Add(name)
		if dep, ok := c.index[name]; ok {
			stack = append(stack, dep.Dependencies.Sorted()...)
		}
	}
}
