package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/entityapi/internal/domain"
)

//go:embed provenance_schema.yaml
var defaultSchema []byte

// DefaultSource returns the embedded provenance schema.
func DefaultSource() io.Reader {
	return bytes.NewReader(defaultSchema)
}

// TriggerLookup resolves trigger names against the static registry.
type TriggerLookup interface {
	Kind(name string) (TriggerKind, bool)
}

// ValidatorLookup resolves validator names against the static registry.
type ValidatorLookup interface {
	HasEntityValidator(name string) bool
	HasPropertyValidator(name string) bool
}

// LoadOptions controls name resolution during Load. A nil lookup disables the
// corresponding check.
type LoadOptions struct {
	Triggers   TriggerLookup
	Validators ValidatorLookup
}

// Catalog is the loaded, immutable schema definition. It is safe for
// concurrent use once Load returns.
type Catalog struct {
	classes       map[string]*EntityClassSchema
	classOrder    []string
	canonical     map[string]string
	index         map[string]*PropertyNameIndex
	activityClass string

	derivationSources []string
	derivationTargets []string
}

type rawSchema struct {
	Derivation struct {
		Sources []string `yaml:"sources"`
		Targets []string `yaml:"targets"`
	} `yaml:"derivation"`
	Activities yaml.Node `yaml:"activities"`
	Entities   yaml.Node `yaml:"entities"`
}

type rawClass struct {
	Superclass string `yaml:"superclass"`
	Derivation struct {
		Source bool `yaml:"source"`
		Target bool `yaml:"target"`
	} `yaml:"derivation"`
	Excluded                    yaml.Node `yaml:"excluded_properties_from_public_response"`
	BeforeEntityCreateValidator string    `yaml:"before_entity_create_validator"`
	Properties                  yaml.Node `yaml:"properties"`
}

type rawProperty struct {
	Type                           string   `yaml:"type"`
	Description                    string   `yaml:"description"`
	Generated                      bool     `yaml:"generated"`
	Immutable                      bool     `yaml:"immutable"`
	RequiredOnCreate               bool     `yaml:"required_on_create"`
	Transient                      bool     `yaml:"transient"`
	Exposed                        *bool    `yaml:"exposed"`
	Indexed                        *bool    `yaml:"indexed"`
	AutoUpdate                     bool     `yaml:"auto_update"`
	UpdatedPeripherally            bool     `yaml:"updated_peripherally"`
	UseActivityValueIfNull         bool     `yaml:"use_activity_value_if_null"`
	DependencyProperties           []string `yaml:"dependency_properties"`
	BeforeCreateTrigger            string   `yaml:"before_create_trigger"`
	BeforeUpdateTrigger            string   `yaml:"before_update_trigger"`
	AfterCreateTrigger             string   `yaml:"after_create_trigger"`
	AfterUpdateTrigger             string   `yaml:"after_update_trigger"`
	OnReadTrigger                  string   `yaml:"on_read_trigger"`
	OnBulkReadTrigger              string   `yaml:"on_bulk_read_trigger"`
	BeforePropertyCreateValidators []string `yaml:"before_property_create_validators"`
	BeforePropertyUpdateValidators []string `yaml:"before_property_update_validators"`
}

// Load parses a schema source and resolves inheritance, the property-name
// index and every trigger/validator reference.
func Load(source io.Reader, opts LoadOptions) (*Catalog, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, &domain.SchemaLoadError{Message: fmt.Sprintf("read source: %v", err)}
	}

	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &domain.SchemaLoadError{Message: fmt.Sprintf("parse yaml: %v", err)}
	}

	c := &Catalog{
		classes:           make(map[string]*EntityClassSchema),
		canonical:         make(map[string]string),
		derivationSources: raw.Derivation.Sources,
		derivationTargets: raw.Derivation.Targets,
	}

	if err := c.addSection(&raw.Activities, domain.ProvenanceActivities); err != nil {
		return nil, err
	}
	if err := c.addSection(&raw.Entities, domain.ProvenanceEntities); err != nil {
		return nil, err
	}
	if len(c.classes) == 0 {
		return nil, &domain.SchemaLoadError{Message: "schema declares no classes"}
	}

	for _, name := range c.classOrder {
		if _, err := c.resolve(name, nil); err != nil {
			return nil, err
		}
	}
	if err := c.checkDerivation(); err != nil {
		return nil, err
	}
	if err := c.checkFunctions(opts); err != nil {
		return nil, err
	}

	c.buildIndex()
	return c, nil
}

// MustLoadDefault loads the embedded schema and panics on failure.
func MustLoadDefault(opts LoadOptions) *Catalog {
	c, err := Load(DefaultSource(), opts)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) addSection(node *yaml.Node, provenance domain.ProvenanceType) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return &domain.SchemaLoadError{Message: fmt.Sprintf("%s must be a mapping", strings.ToLower(string(provenance)))}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var rc rawClass
		if err := node.Content[i+1].Decode(&rc); err != nil {
			return &domain.SchemaLoadError{Class: name, Message: err.Error()}
		}
		if _, dup := c.canonical[strings.ToLower(name)]; dup {
			return &domain.SchemaLoadError{Class: name, Message: "declared more than once"}
		}

		cls := &EntityClassSchema{
			Name:                        name,
			Provenance:                  provenance,
			Superclass:                  strings.TrimSpace(rc.Superclass),
			Derivation:                  Derivation{Source: rc.Derivation.Source, Target: rc.Derivation.Target},
			BeforeEntityCreateValidator: rc.BeforeEntityCreateValidator,
			own:                         newPropertyMap(),
			deleted:                     make(map[string]struct{}),
		}

		excluded, err := parseExclusions(&rc.Excluded)
		if err != nil {
			return &domain.SchemaLoadError{Class: name, Message: err.Error()}
		}
		cls.ExcludedFromPublicResponse = excluded

		if err := parseProperties(cls, &rc.Properties); err != nil {
			return err
		}

		if provenance == domain.ProvenanceActivities && c.activityClass == "" {
			c.activityClass = name
		}
		c.classes[name] = cls
		c.classOrder = append(c.classOrder, name)
		c.canonical[strings.ToLower(name)] = name
	}
	return nil
}

func parseProperties(cls *EntityClassSchema, node *yaml.Node) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return &domain.SchemaLoadError{Class: cls.Name, Message: "properties must be a mapping"}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := node.Content[i+1]
		if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
			cls.deleted[name] = struct{}{}
			continue
		}

		var rp rawProperty
		if err := value.Decode(&rp); err != nil {
			return &domain.SchemaLoadError{Class: cls.Name, Message: fmt.Sprintf("property %s: %v", name, err)}
		}
		rule, err := newRule(name, rp)
		if err != nil {
			return &domain.SchemaLoadError{Class: cls.Name, Message: err.Error()}
		}
		cls.own.set(rule)
	}
	return nil
}

func newRule(name string, rp rawProperty) (*PropertyRule, error) {
	typ := PropertyType(strings.ToLower(strings.TrimSpace(rp.Type)))
	if typ == "" {
		typ = TypeString
	}
	if _, ok := knownTypes[typ]; !ok {
		return nil, fmt.Errorf("property %s: unknown type %q", name, rp.Type)
	}

	rule := &PropertyRule{
		Name:                   name,
		Type:                   typ,
		Description:            rp.Description,
		Generated:              rp.Generated,
		Immutable:              rp.Immutable,
		RequiredOnCreate:       rp.RequiredOnCreate,
		Transient:              rp.Transient,
		Exposed:                rp.Exposed == nil || *rp.Exposed,
		Indexed:                rp.Indexed == nil || *rp.Indexed,
		AutoUpdate:             rp.AutoUpdate,
		UpdatedPeripherally:    rp.UpdatedPeripherally,
		UseActivityValueIfNull: rp.UseActivityValueIfNull,
		DependencyProperties:   append([]string(nil), rp.DependencyProperties...),
		Triggers:               make(map[domain.Phase]string),
		Validators:             make(map[domain.ValidatorPhase][]string),
	}

	triggers := map[domain.Phase]string{
		domain.PhaseBeforeCreate: rp.BeforeCreateTrigger,
		domain.PhaseBeforeUpdate: rp.BeforeUpdateTrigger,
		domain.PhaseAfterCreate:  rp.AfterCreateTrigger,
		domain.PhaseAfterUpdate:  rp.AfterUpdateTrigger,
		domain.PhaseOnRead:       rp.OnReadTrigger,
		domain.PhaseOnBulkRead:   rp.OnBulkReadTrigger,
	}
	for phase, trigger := range triggers {
		if trigger = strings.TrimSpace(trigger); trigger != "" {
			rule.Triggers[phase] = trigger
		}
	}
	if len(rp.BeforePropertyCreateValidators) > 0 {
		rule.Validators[domain.ValidateBeforeCreate] = append([]string(nil), rp.BeforePropertyCreateValidators...)
	}
	if len(rp.BeforePropertyUpdateValidators) > 0 {
		rule.Validators[domain.ValidateBeforeUpdate] = append([]string(nil), rp.BeforePropertyUpdateValidators...)
	}
	return rule, nil
}

func parseExclusions(node *yaml.Node) ([]ExclusionRule, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("excluded_properties_from_public_response must be a list")
	}
	var out []ExclusionRule
	for _, item := range node.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, ExclusionRule{Key: item.Value})
		case yaml.MappingNode:
			for i := 0; i+1 < len(item.Content); i += 2 {
				nested, err := parseExclusions(item.Content[i+1])
				if err != nil {
					return nil, err
				}
				out = append(out, ExclusionRule{Key: item.Content[i].Value, Nested: nested})
			}
		default:
			return nil, fmt.Errorf("unsupported exclusion entry at line %d", item.Line)
		}
	}
	return out, nil
}

// resolve computes the effective property map of a class, root-first.
func (c *Catalog) resolve(name string, visiting map[string]bool) (*PropertyMap, error) {
	cls, ok := c.classes[name]
	if !ok {
		return nil, &domain.SchemaLoadError{Class: name, Message: "class is not declared"}
	}
	if cls.effective != nil {
		return cls.effective, nil
	}
	if visiting == nil {
		visiting = make(map[string]bool)
	}
	if visiting[name] {
		return nil, &domain.SchemaLoadError{Class: name, Message: "superclass cycle"}
	}
	visiting[name] = true

	var merged *PropertyMap
	if cls.Superclass != "" {
		superName, ok := c.canonical[strings.ToLower(cls.Superclass)]
		if !ok {
			return nil, &domain.SchemaLoadError{Class: name, Message: fmt.Sprintf("superclass %s is not declared", cls.Superclass)}
		}
		cls.Superclass = superName
		if c.classes[superName].Provenance != cls.Provenance {
			return nil, &domain.SchemaLoadError{Class: name, Message: fmt.Sprintf("superclass %s belongs to a different section", superName)}
		}
		parent, err := c.resolve(superName, visiting)
		if err != nil {
			return nil, err
		}
		merged = parent.clone()
	} else {
		merged = newPropertyMap()
	}

	for deleted := range cls.deleted {
		merged.remove(deleted)
	}
	for _, rule := range cls.own.Rules() {
		merged.set(rule)
	}
	cls.effective = merged
	return merged, nil
}

func (c *Catalog) checkDerivation() error {
	sources := toLowerSet(c.derivationSources)
	targets := toLowerSet(c.derivationTargets)
	for _, name := range c.classOrder {
		cls := c.classes[name]
		if cls.Provenance == domain.ProvenanceActivities {
			if cls.Derivation.Source || cls.Derivation.Target {
				return &domain.SchemaLoadError{Class: name, Message: "activities cannot declare derivation"}
			}
			continue
		}
		lower := strings.ToLower(name)
		if len(sources) > 0 {
			if _, listed := sources[lower]; listed != cls.Derivation.Source {
				return &domain.SchemaLoadError{Class: name, Message: "derivation.source disagrees with the global derivation sources list"}
			}
		}
		if len(targets) > 0 {
			if _, listed := targets[lower]; listed != cls.Derivation.Target {
				return &domain.SchemaLoadError{Class: name, Message: "derivation.target disagrees with the global derivation targets list"}
			}
		}
	}
	return nil
}

func (c *Catalog) checkFunctions(opts LoadOptions) error {
	for _, name := range c.classOrder {
		cls := c.classes[name]
		if v := cls.BeforeEntityCreateValidator; v != "" && opts.Validators != nil && !opts.Validators.HasEntityValidator(v) {
			return &domain.SchemaLoadError{Class: name, Message: fmt.Sprintf("unknown entity validator %s", v)}
		}
		for _, rule := range cls.own.Rules() {
			if err := checkRule(rule, opts); err != nil {
				return &domain.SchemaLoadError{Class: name, Message: err.Error()}
			}
		}
	}
	return nil
}

func checkRule(rule *PropertyRule, opts LoadOptions) error {
	for _, phase := range domain.TriggerPhases {
		trigger, ok := rule.Trigger(phase)
		if !ok {
			continue
		}
		if rule.UpdatedPeripherally && phase != domain.PhaseBeforeCreate && phase != domain.PhaseBeforeUpdate {
			return fmt.Errorf("property %s: updated_peripherally is only valid for before_create/before_update triggers", rule.Name)
		}
		want := expectedKind(phase, rule.UpdatedPeripherally)
		if opts.Triggers == nil {
			continue
		}
		kind, known := opts.Triggers.Kind(trigger)
		if !known {
			return fmt.Errorf("property %s: unknown %s trigger %s", rule.Name, phase, trigger)
		}
		if kind != want {
			return fmt.Errorf("property %s: %s trigger %s is a %s trigger, expected %s", rule.Name, phase, trigger, kind, want)
		}
	}
	if opts.Validators == nil {
		return nil
	}
	for _, names := range rule.Validators {
		for _, v := range names {
			if !opts.Validators.HasPropertyValidator(v) {
				return fmt.Errorf("property %s: unknown property validator %s", rule.Name, v)
			}
		}
	}
	return nil
}

func expectedKind(phase domain.Phase, peripheral bool) TriggerKind {
	switch phase {
	case domain.PhaseAfterCreate, domain.PhaseAfterUpdate:
		return KindEffect
	case domain.PhaseOnBulkRead:
		return KindBulk
	case domain.PhaseOnRead:
		return KindValue
	default:
		if peripheral {
			return KindReducer
		}
		return KindValue
	}
}

// NormalizeClass returns the canonical spelling of a class name.
func (c *Catalog) NormalizeClass(name string) (string, bool) {
	canonical, ok := c.canonical[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Class returns the class definition for a (case-insensitive) class name.
func (c *Catalog) Class(name string) (*EntityClassSchema, error) {
	canonical, ok := c.NormalizeClass(name)
	if !ok {
		return nil, &domain.SchemaValidationError{
			Class:   name,
			Reason:  domain.ReasonUnknownClass,
			Message: fmt.Sprintf("unknown entity type %s", name),
		}
	}
	return c.classes[canonical], nil
}

// EffectiveProperties returns the resolved properties of a class.
func (c *Catalog) EffectiveProperties(class string) (*PropertyMap, error) {
	cls, err := c.Class(class)
	if err != nil {
		return nil, err
	}
	return cls.effective, nil
}

// Property looks up one effective property of a class.
func (c *Catalog) Property(class, name string) (*PropertyRule, bool) {
	props, err := c.EffectiveProperties(class)
	if err != nil {
		return nil, false
	}
	return props.Get(name)
}

// ActivityClass returns the name of the activity class.
func (c *Catalog) ActivityClass() string {
	return c.activityClass
}

// ActivityProperties returns the effective properties of the activity class.
func (c *Catalog) ActivityProperties() *PropertyMap {
	if c.activityClass == "" {
		return newPropertyMap()
	}
	return c.classes[c.activityClass].effective
}

// EntityClasses returns the entity class names in declaration order.
func (c *Catalog) EntityClasses() []string {
	var out []string
	for _, name := range c.classOrder {
		if c.classes[name].Provenance == domain.ProvenanceEntities {
			out = append(out, name)
		}
	}
	return out
}

// IsInstanceOf walks the superclass chain of class looking for ancestor.
func (c *Catalog) IsInstanceOf(class, ancestor string) (bool, error) {
	current, ok := c.NormalizeClass(class)
	if !ok {
		return false, &domain.SchemaValidationError{Class: class, Reason: domain.ReasonUnknownClass, Message: fmt.Sprintf("unknown entity type %s", class)}
	}
	target := strings.ToLower(strings.TrimSpace(ancestor))
	for current != "" {
		if strings.ToLower(current) == target {
			return true, nil
		}
		current = c.classes[current].Superclass
	}
	return false, nil
}

// ExcludedFromPublicResponse returns the exclusion rules of a class merged
// with those inherited from its superclasses.
func (c *Catalog) ExcludedFromPublicResponse(class string) []ExclusionRule {
	canonical, ok := c.NormalizeClass(class)
	if !ok {
		return nil
	}
	var chain []*EntityClassSchema
	for name := canonical; name != ""; name = c.classes[name].Superclass {
		chain = append(chain, c.classes[name])
	}
	var out []ExclusionRule
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].ExcludedFromPublicResponse...)
	}
	return out
}

// IsDerivationSource reports whether class may be a provenance parent. Names in
// the global derivation list that are not declared fail here, on first use.
func (c *Catalog) IsDerivationSource(class string) (bool, error) {
	return c.derivationFlag(class, c.derivationSources, func(d Derivation) bool { return d.Source })
}

// IsDerivationTarget reports whether class may be a provenance child.
func (c *Catalog) IsDerivationTarget(class string) (bool, error) {
	return c.derivationFlag(class, c.derivationTargets, func(d Derivation) bool { return d.Target })
}

func (c *Catalog) derivationFlag(class string, global []string, pick func(Derivation) bool) (bool, error) {
	for _, listed := range global {
		if _, ok := c.NormalizeClass(listed); !ok {
			return false, &domain.SchemaLoadError{Class: listed, Message: "derivation list references an undeclared class"}
		}
	}
	cls, err := c.Class(class)
	if err != nil {
		return false, err
	}
	return pick(cls.Derivation), nil
}

func toLowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}
