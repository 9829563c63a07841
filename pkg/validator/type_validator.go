package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FieldType is a declared property type understood by the validator.
type FieldType string

const (
	FieldTypeString     FieldType = "string"
	FieldTypeInteger    FieldType = "integer"
	FieldTypeNumber     FieldType = "number"
	FieldTypeBoolean    FieldType = "boolean"
	FieldTypeList       FieldType = "list"
	FieldTypeJSONString FieldType = "json_string"
)

// TypeValidator checks decoded request values against declared property types.
type TypeValidator struct{}

// NewTypeValidator creates a new type validator
func NewTypeValidator() *TypeValidator {
	return &TypeValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// ValidateProperties validates properties against field definitions. Errors are
// reported in field-name order so callers get a stable first error.
func (tv *TypeValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	names := make([]string, 0, len(fieldDefinitions))
	for name := range fieldDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fieldName := range names {
		fieldDef := fieldDefinitions[fieldName]
		value, exists := properties[fieldName]

		if fieldDef.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("required field '%s' is missing", fieldName),
			})
			continue
		}

		// Skip validation for missing optional fields
		if !exists || value == nil {
			continue
		}

		if err := tv.ValidateValue(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	return result
}

// ValidateValue validates the runtime type of a single field value. A nil value
// is accepted for every type.
func (tv *TypeValidator) ValidateValue(fieldName string, value any, expectedType FieldType) error {
	if value == nil {
		return nil
	}

	switch FieldType(strings.ToLower(string(expectedType))) {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %s", fieldName, describe(value))
		}
	case FieldTypeInteger:
		if !tv.isInteger(value) {
			return fmt.Errorf("field '%s' must be an integer, got %s", fieldName, describe(value))
		}
	case FieldTypeNumber:
		if !tv.isNumber(value) {
			return fmt.Errorf("field '%s' must be a number, got %s", fieldName, describe(value))
		}
	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %s", fieldName, describe(value))
		}
	case FieldTypeList:
		if !tv.isList(value) {
			return fmt.Errorf("field '%s' must be a list, got %s", fieldName, describe(value))
		}
	case FieldTypeJSONString:
		if !tv.isObject(value) && !tv.isList(value) {
			return fmt.Errorf("field '%s' must be a JSON object or array, got %s", fieldName, describe(value))
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}

	return nil
}

// Helper methods for type checking
func (tv *TypeValidator) isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return !math.IsInf(v, 0) && v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	default:
		return false
	}
}

func (tv *TypeValidator) isNumber(value any) bool {
	switch value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func (tv *TypeValidator) isList(value any) bool {
	switch value.(type) {
	case []any, []string, []map[string]any:
		return true
	default:
		return false
	}
}

func (tv *TypeValidator) isObject(value any) bool {
	_, ok := value.(map[string]any)
	return ok
}

// describe names a decoded JSON value the way API clients think about it.
func describe(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case []any, []string, []map[string]any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
