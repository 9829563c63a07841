package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rpattn/entityapi/internal/clients"
	"github.com/rpattn/entityapi/internal/domain"
)

// AppError is the JSON error envelope of every failed request.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(err error, code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ToAppError maps a domain error onto its HTTP envelope. Unknown errors are
// internal errors and their text is not exposed.
func ToAppError(err error) *AppError {
	var (
		app         *AppError
		validation  *domain.SchemaValidationError
		invalid     *domain.InvalidInputError
		missingHdr  *domain.MissingApplicationHeaderError
		invalidHdr  *domain.InvalidApplicationHeaderError
		noGroup     *domain.NoDataProviderGroupError
		multiGroup  *domain.MultipleDataProviderGroupError
		unmatched   *domain.UnmatchedDataProviderGroupError
		upload      *domain.FileUploadError
		mint        *domain.MintError
		triggerFail *domain.TriggerError
	)

	switch {
	case errors.As(err, &app):
		return app
	case errors.As(err, &validation):
		e := newAppError(err, "SCHEMA_VALIDATION_FAILED", http.StatusBadRequest, validation.Message)
		e.Field = validation.Field
		return e
	case errors.As(err, &invalid):
		e := newAppError(err, "INVALID_INPUT", http.StatusBadRequest, invalid.Message)
		e.Field = invalid.Field
		return e
	case errors.As(err, &missingHdr), errors.As(err, &invalidHdr):
		return newAppError(err, "INVALID_APPLICATION_HEADER", http.StatusBadRequest, err.Error())
	case errors.As(err, &noGroup), errors.As(err, &multiGroup), errors.As(err, &unmatched):
		return newAppError(err, "DATA_PROVIDER_GROUP", http.StatusBadRequest, err.Error())
	case errors.As(err, &upload):
		return newAppError(err, "FILE_UPLOAD_FAILED", http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEntityNotFound):
		return newAppError(err, "NOT_FOUND", http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, clients.ErrInvalidToken):
		return newAppError(err, "UNAUTHORIZED", http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return newAppError(err, "FORBIDDEN", http.StatusForbidden, err.Error())
	case errors.As(err, &mint):
		status := mint.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return newAppError(err, "ID_MINTING_FAILED", status, mint.Message)
	case errors.Is(err, domain.ErrAfterCreateTrigger):
		return newAppError(err, "AFTER_CREATE_TRIGGER_FAILED", http.StatusInternalServerError,
			"the entity has been created, but failed to execute one of the after_create triggers")
	case errors.Is(err, domain.ErrAfterUpdateTrigger):
		return newAppError(err, "AFTER_UPDATE_TRIGGER_FAILED", http.StatusInternalServerError,
			"the entity has been updated, but failed to execute one of the after_update triggers")
	case errors.As(err, &triggerFail):
		return newAppError(err, "TRIGGER_FAILED", http.StatusInternalServerError,
			fmt.Sprintf("failed to execute one of the %s triggers, the entity was not saved", triggerFail.Phase))
	default:
		return newAppError(err, "INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
