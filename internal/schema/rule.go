package schema

import (
	"github.com/rpattn/entityapi/internal/domain"
)

// PropertyType is the declared storage type of a property.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeInteger    PropertyType = "integer"
	TypeNumber     PropertyType = "number"
	TypeBoolean    PropertyType = "boolean"
	TypeList       PropertyType = "list"
	TypeJSONString PropertyType = "json_string"
)

var knownTypes = map[PropertyType]struct{}{
	TypeString:     {},
	TypeInteger:    {},
	TypeNumber:     {},
	TypeBoolean:    {},
	TypeList:       {},
	TypeJSONString: {},
}

// TriggerKind is the calling convention a registered trigger implements.
type TriggerKind int

const (
	// KindValue returns a (target key, value) pair.
	KindValue TriggerKind = iota + 1
	// KindReducer receives the generated-data accumulator and returns it.
	KindReducer
	// KindEffect performs a side effect and returns only an error.
	KindEffect
	// KindBulk computes one property for many entities at once.
	KindBulk
)

func (k TriggerKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindReducer:
		return "reducer"
	case KindEffect:
		return "effect"
	case KindBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// PropertyRule is the schema declaration of a single property.
type PropertyRule struct {
	Name                   string
	Type                   PropertyType
	Description            string
	Generated              bool
	Immutable              bool
	RequiredOnCreate       bool
	Transient              bool
	Exposed                bool
	Indexed                bool
	AutoUpdate             bool
	UpdatedPeripherally    bool
	UseActivityValueIfNull bool
	DependencyProperties   []string
	Triggers               map[domain.Phase]string
	Validators             map[domain.ValidatorPhase][]string
}

// Trigger returns the trigger name declared for phase.
func (r *PropertyRule) Trigger(phase domain.Phase) (string, bool) {
	name, ok := r.Triggers[phase]
	return name, ok && name != ""
}

// IsTriggerBacked reports whether the property is computed on read.
func (r *PropertyRule) IsTriggerBacked() bool {
	_, onRead := r.Trigger(domain.PhaseOnRead)
	_, onBulk := r.Trigger(domain.PhaseOnBulkRead)
	return onRead || onBulk
}

// IsGraphBacked reports whether the property is read straight from storage.
func (r *PropertyRule) IsGraphBacked() bool {
	return !r.IsTriggerBacked() && !r.Transient
}

// IsEncoded reports whether the stored representation is a literal string.
func (r *PropertyRule) IsEncoded() bool {
	return r.Type == TypeList || r.Type == TypeJSONString
}

// ValidatorsFor returns the validator names declared for phase, in order.
func (r *PropertyRule) ValidatorsFor(phase domain.ValidatorPhase) []string {
	return r.Validators[phase]
}

// PropertyMap is an insertion-ordered set of property rules.
type PropertyMap struct {
	order []string
	rules map[string]*PropertyRule
}

func newPropertyMap() *PropertyMap {
	return &PropertyMap{rules: make(map[string]*PropertyRule)}
}

// Get returns the rule for name.
func (m *PropertyMap) Get(name string) (*PropertyRule, bool) {
	if m == nil {
		return nil, false
	}
	r, ok := m.rules[name]
	return r, ok
}

// Has reports whether name is declared.
func (m *PropertyMap) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Names returns property names in declaration order.
func (m *PropertyMap) Names() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}

// Rules returns the rules in declaration order.
func (m *PropertyMap) Rules() []*PropertyRule {
	if m == nil {
		return nil
	}
	out := make([]*PropertyRule, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.rules[name])
	}
	return out
}

// Len returns the number of declared properties.
func (m *PropertyMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// set replaces an existing rule in place or appends a new one.
func (m *PropertyMap) set(rule *PropertyRule) {
	if _, exists := m.rules[rule.Name]; !exists {
		m.order = append(m.order, rule.Name)
	}
	m.rules[rule.Name] = rule
}

func (m *PropertyMap) remove(name string) {
	if _, exists := m.rules[name]; !exists {
		return
	}
	delete(m.rules, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *PropertyMap) clone() *PropertyMap {
	out := newPropertyMap()
	out.order = append(out.order, m.order...)
	for k, v := range m.rules {
		out.rules[k] = v
	}
	return out
}

// ExclusionRule names a property to strip from public responses. Nested rules
// descend into the property's value (maps or lists of maps).
type ExclusionRule struct {
	Key    string
	Nested []ExclusionRule
}

// Derivation declares whether a class may act as a provenance parent (source)
// or child (target).
type Derivation struct {
	Source bool
	Target bool
}

// EntityClassSchema is one class definition after inheritance is resolved.
type EntityClassSchema struct {
	Name                        string
	Provenance                  domain.ProvenanceType
	Superclass                  string
	Derivation                  Derivation
	ExcludedFromPublicResponse  []ExclusionRule
	BeforeEntityCreateValidator string

	own       *PropertyMap
	deleted   map[string]struct{}
	effective *PropertyMap
}

// Properties returns the effective (inherited and overridden) property map.
func (c *EntityClassSchema) Properties() *PropertyMap {
	return c.effective
}

// OwnProperties returns only the properties declared on this class.
func (c *EntityClassSchema) OwnProperties() *PropertyMap {
	return c.own
}
