package domain

// Phase identifies when a trigger or validator runs in the entity lifecycle.
type Phase string

const (
	PhaseBeforeCreate Phase = "before_create"
	PhaseBeforeUpdate Phase = "before_update"
	PhaseAfterCreate  Phase = "after_create"
	PhaseAfterUpdate  Phase = "after_update"
	PhaseOnRead       Phase = "on_read"
	PhaseOnBulkRead   Phase = "on_bulk_read"
)

// TriggerPhases lists every phase in lifecycle order.
var TriggerPhases = []Phase{
	PhaseBeforeCreate,
	PhaseBeforeUpdate,
	PhaseAfterCreate,
	PhaseAfterUpdate,
	PhaseOnRead,
	PhaseOnBulkRead,
}

// Valid reports whether p is a known trigger phase.
func (p Phase) Valid() bool {
	for _, known := range TriggerPhases {
		if p == known {
			return true
		}
	}
	return false
}

// IsAfter reports whether the phase runs after persistence.
func (p Phase) IsAfter() bool {
	return p == PhaseAfterCreate || p == PhaseAfterUpdate
}

// ValidatorPhase identifies when a property-level validator runs.
type ValidatorPhase string

const (
	ValidateBeforeCreate ValidatorPhase = "before_property_create_validators"
	ValidateBeforeUpdate ValidatorPhase = "before_property_update_validators"
)

// FilterMode selects whether a property filter list keeps or drops the named
// properties.
type FilterMode int

const (
	FilterInclude FilterMode = iota
	FilterExclude
)

// PropertyFilter is a caller-supplied property selection.
type PropertyFilter struct {
	Properties []string
	Mode       FilterMode
}

// Empty reports whether the filter selects nothing explicitly.
func (f PropertyFilter) Empty() bool {
	return len(f.Properties) == 0
}

// Contains reports whether name is listed in the filter.
func (f PropertyFilter) Contains(name string) bool {
	for _, p := range f.Properties {
		if p == name {
			return true
		}
	}
	return false
}

// MetadataScope selects the visibility flag used when normalizing a record.
type MetadataScope string

const (
	ScopeResponse MetadataScope = "response"
	ScopeIndex    MetadataScope = "index"
)
