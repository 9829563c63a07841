package domain

import (
	"errors"
	"fmt"
)

// ErrEntityNotFound is returned by stores when a uuid does not resolve.
var ErrEntityNotFound = errors.New("entity not found")

// Access errors raised by the service layer.
var (
	ErrUnauthorized = errors.New("a valid token is required")
	ErrForbidden    = errors.New("the caller may not access this entity")
)

// Sentinels for the trigger-phase failures. TriggerError matches the sentinel
// for its phase through errors.Is.
var (
	ErrBeforeCreateTrigger = errors.New("before_create trigger failed")
	ErrBeforeUpdateTrigger = errors.New("before_update trigger failed")
	ErrAfterCreateTrigger  = errors.New("after_create trigger failed")
	ErrAfterUpdateTrigger  = errors.New("after_update trigger failed")
)

// SchemaLoadError reports a structural problem in the schema source. It is
// fatal at startup.
type SchemaLoadError struct {
	Class   string
	Message string
}

func (e *SchemaLoadError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("schema load: %s", e.Message)
	}
	return fmt.Sprintf("schema load: class %s: %s", e.Class, e.Message)
}

// ValidationReason classifies a SchemaValidationError.
type ValidationReason string

const (
	ReasonUnsupportedKey   ValidationReason = "unsupported_key"
	ReasonGeneratedKey     ValidationReason = "generated_key"
	ReasonImmutableKey     ValidationReason = "immutable_key"
	ReasonMissingRequired  ValidationReason = "missing_required_key"
	ReasonEmptyRequired    ValidationReason = "empty_required_key"
	ReasonTypeMismatch     ValidationReason = "type_mismatch"
	ReasonUnknownClass     ValidationReason = "unknown_class"
	ReasonMalformedPayload ValidationReason = "malformed_payload"
)

// SchemaValidationError rejects caller input that violates the schema.
type SchemaValidationError struct {
	Class   string
	Field   string
	Reason  ValidationReason
	Message string
}

func (e *SchemaValidationError) Error() string {
	return e.Message
}

// InvalidInputError is raised by property validators for bad caller input.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

// NewInvalidInput builds an InvalidInputError with a formatted message.
func NewInvalidInput(field, format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MissingApplicationHeaderError means an entity-level rule required a request
// header that was not sent.
type MissingApplicationHeaderError struct {
	Header string
}

func (e *MissingApplicationHeaderError) Error() string {
	return fmt.Sprintf("unable to proceed due to missing %s header", e.Header)
}

// InvalidApplicationHeaderError means the application header value is not allowed.
type InvalidApplicationHeaderError struct {
	Header string
	Value  string
}

func (e *InvalidApplicationHeaderError) Error() string {
	return fmt.Sprintf("unable to proceed due to invalid %s header value: %s", e.Header, e.Value)
}

// NoDataProviderGroupError means the caller belongs to no data-provider group.
type NoDataProviderGroupError struct{}

func (e *NoDataProviderGroupError) Error() string {
	return "the user does not belong to any data provider group"
}

// MultipleDataProviderGroupError means the caller must pick one of several groups.
type MultipleDataProviderGroupError struct {
	Groups []string
}

func (e *MultipleDataProviderGroupError) Error() string {
	return "the user belongs to multiple data provider groups, please specify group_uuid"
}

// UnmatchedDataProviderGroupError means the requested group is not one the
// caller is a member of.
type UnmatchedDataProviderGroupError struct {
	GroupUUID string
}

func (e *UnmatchedDataProviderGroupError) Error() string {
	return fmt.Sprintf("the user does not belong to the given data provider group %s", e.GroupUUID)
}

// FileUploadError reports a failed commit/remove against the file service.
type FileUploadError struct {
	Property string
	Err      error
}

func (e *FileUploadError) Error() string {
	return fmt.Sprintf("file upload failed for %s: %v", e.Property, e.Err)
}

func (e *FileUploadError) Unwrap() error {
	return e.Err
}

// MintError reports a failure from the identity minting service.
type MintError struct {
	StatusCode int
	Message    string
}

func (e *MintError) Error() string {
	return fmt.Sprintf("identity minting failed (status %d): %s", e.StatusCode, e.Message)
}

// TriggerError wraps a failure raised by a before/after trigger.
type TriggerError struct {
	Phase    Phase
	Class    string
	Property string
	Trigger  string
	Err      error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("%s trigger %s for %s.%s: %v", e.Phase, e.Trigger, e.Class, e.Property, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's phase.
func (e *TriggerError) Is(target error) bool {
	switch target {
	case ErrBeforeCreateTrigger:
		return e.Phase == PhaseBeforeCreate
	case ErrBeforeUpdateTrigger:
		return e.Phase == PhaseBeforeUpdate
	case ErrAfterCreateTrigger:
		return e.Phase == PhaseAfterCreate
	case ErrAfterUpdateTrigger:
		return e.Phase == PhaseAfterUpdate
	}
	return false
}

// BulkTriggerError reports a failed bulk-read group. It is logged, never returned
// to clients.
type BulkTriggerError struct {
	StorageKey string
	Err        error
}

func (e *BulkTriggerError) Error() string {
	return fmt.Sprintf("bulk trigger %s: %v", e.StorageKey, e.Err)
}

func (e *BulkTriggerError) Unwrap() error {
	return e.Err
}

// IsPassthroughError reports whether err belongs to the family that must reach
// callers unwrapped from before-phase triggers.
func IsPassthroughError(err error) bool {
	var (
		noGroup    *NoDataProviderGroupError
		multiGroup *MultipleDataProviderGroupError
		unmatched  *UnmatchedDataProviderGroupError
		upload     *FileUploadError
	)
	return errors.As(err, &noGroup) ||
		errors.As(err, &multiGroup) ||
		errors.As(err, &unmatched) ||
		errors.As(err, &upload)
}
