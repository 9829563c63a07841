package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
	typecheck "github.com/rpattn/entityapi/pkg/validator"
)

// DefaultApplicationHeader is the request header consulted by the entity-level
// application validator when none is configured.
const DefaultApplicationHeader = "X-SenNet-Application"

// EntityReader is the slice of the graph store validators need.
type EntityReader interface {
	GetEntity(ctx context.Context, uuid string) (domain.Record, error)
}

// BatchEntityReader is implemented by readers that resolve several entities in
// one round trip. errs is nil when every id loaded and otherwise holds one
// entry per id.
type BatchEntityReader interface {
	LoadEntities(ctx context.Context, ids []string) (records []domain.Record, errs []error)
}

// loadEntities reads ids in one batch when reader supports it.
func loadEntities(ctx context.Context, reader EntityReader, ids []string) ([]domain.Record, []error) {
	if batch, ok := reader.(BatchEntityReader); ok {
		return batch.LoadEntities(ctx, ids)
	}
	records := make([]domain.Record, len(ids))
	var errs []error
	for i, id := range ids {
		rec, err := reader.GetEntity(ctx, id)
		if err != nil {
			if errs == nil {
				errs = make([]error, len(ids))
			}
			errs[i] = err
			continue
		}
		records[i] = rec
	}
	return records, errs
}

// Vocabulary supplies the controlled terms validators check against.
type Vocabulary interface {
	SampleCategories() []string
	SourceTypes() []string
	DatasetStatuses() []string
	OrganName(code string) (string, bool)
}

// Deps are the collaborators shared by every builtin validator.
type Deps struct {
	Store               EntityReader
	Vocabulary          Vocabulary
	ApplicationHeader   string
	AllowedApplications []string
}

// Gateway runs the schema checks and the entity/property validators declared
// in the catalog.
type Gateway struct {
	catalog *schema.Catalog
	types   *typecheck.TypeValidator
	deps    Deps
}

// NewGateway creates a validation gateway.
func NewGateway(catalog *schema.Catalog, deps Deps) *Gateway {
	if deps.ApplicationHeader == "" {
		deps.ApplicationHeader = DefaultApplicationHeader
	}
	return &Gateway{
		catalog: catalog,
		types:   typecheck.NewTypeValidator(),
		deps:    deps,
	}
}

// ValidateAgainstSchema checks input against the effective properties of
// class. An empty existing record means the input is a create payload.
func (g *Gateway) ValidateAgainstSchema(class string, input, existing domain.Record) error {
	cls, err := g.catalog.Class(class)
	if err != nil {
		return err
	}
	props := cls.Properties()
	creating := len(existing) == 0
	keys := input.Keys()

	for _, key := range keys {
		if !props.Has(key) {
			return &domain.SchemaValidationError{
				Class:   cls.Name,
				Field:   key,
				Reason:  domain.ReasonUnsupportedKey,
				Message: fmt.Sprintf("'%s' is not a supported field for %s", key, cls.Name),
			}
		}
	}

	for _, key := range keys {
		rule, _ := props.Get(key)
		switch {
		case creating && rule.Generated:
			return &domain.SchemaValidationError{
				Class:   cls.Name,
				Field:   key,
				Reason:  domain.ReasonGeneratedKey,
				Message: fmt.Sprintf("'%s' is an auto-generated field and cannot be specified on create", key),
			}
		case !creating && rule.Immutable:
			return &domain.SchemaValidationError{
				Class:   cls.Name,
				Field:   key,
				Reason:  domain.ReasonImmutableKey,
				Message: fmt.Sprintf("'%s' is an immutable field and cannot be updated", key),
			}
		}
	}

	if creating {
		for _, rule := range props.Rules() {
			if !rule.RequiredOnCreate {
				continue
			}
			if _, triggered := rule.Trigger(domain.PhaseBeforeCreate); triggered {
				continue
			}
			value, present := input[rule.Name]
			if !present {
				return &domain.SchemaValidationError{
					Class:   cls.Name,
					Field:   rule.Name,
					Reason:  domain.ReasonMissingRequired,
					Message: fmt.Sprintf("missing required field '%s'", rule.Name),
				}
			}
			if isBlank(value) {
				return &domain.SchemaValidationError{
					Class:   cls.Name,
					Field:   rule.Name,
					Reason:  domain.ReasonEmptyRequired,
					Message: fmt.Sprintf("required field '%s' cannot be empty", rule.Name),
				}
			}
		}
	}

	defs := make(map[string]typecheck.FieldDefinition, len(keys))
	for _, key := range keys {
		rule, _ := props.Get(key)
		defs[key] = typecheck.FieldDefinition{Type: typecheck.FieldType(rule.Type)}
	}
	result := g.types.ValidateProperties(input, defs)
	if result.IsValid {
		return nil
	}
	messages := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		messages = append(messages, e.Message)
	}
	return &domain.SchemaValidationError{
		Class:   cls.Name,
		Field:   result.Errors[0].Field,
		Reason:  domain.ReasonTypeMismatch,
		Message: strings.Join(messages, "; "),
	}
}

// RunEntityLevelValidator invokes the class's before_entity_create_validator,
// if one is declared.
func (g *Gateway) RunEntityLevelValidator(ctx context.Context, class string, req *domain.RequestContext) error {
	cls, err := g.catalog.Class(class)
	if err != nil {
		return err
	}
	name := cls.BeforeEntityCreateValidator
	if name == "" {
		return nil
	}
	fn, ok := entityValidators[name]
	if !ok {
		return fmt.Errorf("entity validator %s is not registered", name)
	}
	return fn(ctx, EntityCall{Deps: g.deps, Catalog: g.catalog, Request: req, Class: cls.Name})
}

// RunPropertyLevelValidators invokes, in declaration order, the validators
// declared for phase on every property present in newRecord. The first error
// is returned unchanged.
func (g *Gateway) RunPropertyLevelValidators(ctx context.Context, phase domain.ValidatorPhase, class string, req *domain.RequestContext, existing, newRecord domain.Record) error {
	props, err := g.catalog.EffectiveProperties(class)
	if err != nil {
		return err
	}
	canonical, _ := g.catalog.NormalizeClass(class)
	for _, rule := range props.Rules() {
		if !newRecord.Has(rule.Name) {
			continue
		}
		for _, name := range rule.ValidatorsFor(phase) {
			fn, ok := propertyValidators[name]
			if !ok {
				return fmt.Errorf("property validator %s is not registered", name)
			}
			call := PropertyCall{
				Deps:     g.deps,
				Catalog:  g.catalog,
				Request:  req,
				Class:    canonical,
				Property: rule.Name,
				Existing: existing,
				New:      newRecord,
			}
			if err := fn(ctx, call); err != nil {
				return err
			}
		}
	}
	return nil
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
