package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
)

// EntityCall is the input of an entity-level validator.
type EntityCall struct {
	Deps    Deps
	Catalog *schema.Catalog
	Request *domain.RequestContext
	Class   string
}

// PropertyCall is the input of a property-level validator.
type PropertyCall struct {
	Deps     Deps
	Catalog  *schema.Catalog
	Request  *domain.RequestContext
	Class    string
	Property string
	Existing domain.Record
	New      domain.Record
}

// Value returns the submitted value of the validated property.
func (c PropertyCall) Value() any {
	return c.New[c.Property]
}

// EntityValidatorFunc validates a whole create request.
type EntityValidatorFunc func(ctx context.Context, call EntityCall) error

// PropertyValidatorFunc validates one submitted property.
type PropertyValidatorFunc func(ctx context.Context, call PropertyCall) error

var entityValidators = map[string]EntityValidatorFunc{
	"validate_application_header_before_entity_create": validateApplicationHeader,
}

var propertyValidators = map[string]PropertyValidatorFunc{
	"validate_sample_category":        validateSampleCategory,
	"validate_organ_code":             validateOrganCode,
	"validate_source_type":            validateSourceType,
	"validate_dataset_status_value":   validateDatasetStatusValue,
	"validate_status_changed":         validateStatusChanged,
	"validate_protocol_url":           validateProtocolURL,
	"validate_direct_ancestor_exists": validateDirectAncestorExists,
}

// Registry exposes the builtin validator names to the schema loader.
type Registry struct{}

// HasEntityValidator implements schema.ValidatorLookup.
func (Registry) HasEntityValidator(name string) bool {
	_, ok := entityValidators[name]
	return ok
}

// HasPropertyValidator implements schema.ValidatorLookup.
func (Registry) HasPropertyValidator(name string) bool {
	_, ok := propertyValidators[name]
	return ok
}

func validateApplicationHeader(_ context.Context, call EntityCall) error {
	header := call.Deps.ApplicationHeader
	if !call.Request.HasHeader(header) {
		return &domain.MissingApplicationHeaderError{Header: header}
	}
	value := strings.TrimSpace(call.Request.Header(header))
	if !containsFold(call.Deps.AllowedApplications, value) {
		return &domain.InvalidApplicationHeaderError{Header: header, Value: value}
	}
	return nil
}

func validateSampleCategory(_ context.Context, call PropertyCall) error {
	category, ok := call.Value().(string)
	if !ok || !containsFold(call.Deps.Vocabulary.SampleCategories(), category) {
		return domain.NewInvalidInput(call.Property, "Invalid sample_category: %v, must be one of %s",
			call.Value(), strings.Join(sortedCopy(call.Deps.Vocabulary.SampleCategories()), ", "))
	}
	return nil
}

func validateOrganCode(_ context.Context, call PropertyCall) error {
	category, _ := call.New[domain.KeySampleCategory].(string)
	if category == "" {
		category, _ = call.Existing[domain.KeySampleCategory].(string)
	}
	if !strings.EqualFold(category, domain.SampleCategoryOrgan) {
		return domain.NewInvalidInput(call.Property, "organ can only be specified when sample_category is %s", domain.SampleCategoryOrgan)
	}
	code, ok := call.Value().(string)
	if !ok {
		return domain.NewInvalidInput(call.Property, "organ must be an organ code string")
	}
	if _, known := call.Deps.Vocabulary.OrganName(code); !known {
		return domain.NewInvalidInput(call.Property, "Invalid organ code: %s", code)
	}
	return nil
}

func validateSourceType(_ context.Context, call PropertyCall) error {
	sourceType, ok := call.Value().(string)
	if !ok || !containsFold(call.Deps.Vocabulary.SourceTypes(), sourceType) {
		return domain.NewInvalidInput(call.Property, "Invalid source_type: %v", call.Value())
	}
	return nil
}

func validateDatasetStatusValue(_ context.Context, call PropertyCall) error {
	status, ok := call.Value().(string)
	if !ok || !containsFold(call.Deps.Vocabulary.DatasetStatuses(), status) {
		return domain.NewInvalidInput(call.Property, "Invalid status: %v, must be one of %s",
			call.Value(), strings.Join(call.Deps.Vocabulary.DatasetStatuses(), ", "))
	}
	return nil
}

func validateStatusChanged(_ context.Context, call PropertyCall) error {
	current, _ := call.Existing[domain.KeyStatus].(string)
	next, _ := call.Value().(string)
	if strings.EqualFold(current, "published") && !strings.EqualFold(next, current) {
		return domain.NewInvalidInput(call.Property, "the status of a published entity cannot be changed to %s", next)
	}
	return nil
}

var protocolPrefixes = []string{
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"dx.doi.org/",
	"https://doi.org/",
}

func validateProtocolURL(_ context.Context, call PropertyCall) error {
	url, ok := call.Value().(string)
	if !ok {
		return domain.NewInvalidInput(call.Property, "protocol_url must be a string")
	}
	for _, prefix := range protocolPrefixes {
		if len(url) > len(prefix) && strings.EqualFold(url[:len(prefix)], prefix) {
			return nil
		}
	}
	return domain.NewInvalidInput(call.Property, "Invalid protocol_url %q, expected a DOI such as https://dx.doi.org/10.17504/protocols.io.xyz", url)
}

func validateDirectAncestorExists(ctx context.Context, call PropertyCall) error {
	ids, err := domain.StringSlice(call.Value())
	if err != nil {
		return domain.NewInvalidInput(call.Property, "%s: %v", call.Property, err)
	}
	if len(ids) == 0 {
		return domain.NewInvalidInput(call.Property, "%s cannot be empty", call.Property)
	}

	checkDerivation, err := call.Catalog.IsDerivationTarget(call.Class)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return domain.NewInvalidInput(call.Property, "%s is not a valid uuid", id)
		}
	}

	ancestors, errs := loadEntities(ctx, call.Deps.Store, ids)
	for i, id := range ids {
		if errs != nil && errs[i] != nil {
			if errors.Is(errs[i], domain.ErrEntityNotFound) {
				return domain.NewInvalidInput(call.Property, "could not find the target entity %s", id)
			}
			return fmt.Errorf("failed to look up %s: %w", id, errs[i])
		}
		if !checkDerivation {
			continue
		}
		ancestor := ancestors[i]
		source, err := call.Catalog.IsDerivationSource(ancestor.EntityType())
		if err != nil {
			return err
		}
		if !source {
			return domain.NewInvalidInput(call.Property, "%s %s cannot be the direct ancestor of a %s", ancestor.EntityType(), id, call.Class)
		}
	}
	return nil
}
