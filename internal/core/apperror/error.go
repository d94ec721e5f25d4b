// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every failure that reaches a fiscal entry's last_error or an API response is an AppError.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Fiscal pipeline errors
	CodeConfigIncomplete    = "CONFIG_INCOMPLETE"
	CodeItemValidation      = "ITEM_VALIDATION"
	CodeProviderAuth        = "PROVIDER_AUTH"
	CodeProviderRejection   = "PROVIDER_REJECTION"
	CodeArtifactUnavailable = "ARTIFACT_UNAVAILABLE"
	CodeTransport           = "TRANSPORT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeDuplicateOriginID   = "DUPLICATE_ORIGIN_ID"
	CodeInvalidTransition   = "INVALID_TRANSITION"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict = "CONFLICT"
)

// labels are the operator-facing names shown in last_error.
var labels = map[string]string{
	CodeConfigIncomplete:    "ConfigIncomplete",
	CodeItemValidation:      "ItemValidation",
	CodeProviderAuth:        "ProviderAuth",
	CodeProviderRejection:   "ProviderRejection",
	CodeArtifactUnavailable: "ArtifactUnavailable",
	CodeTransport:           "Transport",
	CodeRateLimited:         "RateLimited",
	CodeDuplicateOriginID:   "DuplicateOriginID",
	CodeInvalidTransition:   "InvalidTransition",
	CodeValidation:          "Validation",
	CodeNotFound:            "NotFound",
	CodeConflict:            "Conflict",
	CodeInternal:            "Internal",
	CodeDatabase:            "Database",
	CodeUnauthorized:        "Unauthorized",
	CodeForbidden:           "Forbidden",
}

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, provider messages, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Transient marks failures that may succeed on a later attempt without
	// operator changes (network, 5xx, rate limit, artifact not ready).
	Transient bool `json:"transient,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewDatabase wraps a storage failure.
func NewDatabase(op string, err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    op,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Fiscal pipeline errors ---

// NewConfigIncomplete reports missing or invalid emitter configuration.
// Entries failing with it move to error_config.
func NewConfigIncomplete(message string) *AppError {
	return &AppError{
		Code:       CodeConfigIncomplete,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewItemValidation reports a line item that cannot be invoiced.
// position is 1-based.
func NewItemValidation(position int, message string) *AppError {
	return &AppError{
		Code:       CodeItemValidation,
		Message:    fmt.Sprintf("Item %d: %s", position, message),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"item": position},
	}
}

// NewProviderAuth reports a failed token acquisition.
func NewProviderAuth(message string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderAuth,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Transient:  true,
		Err:        err,
	}
}

// NewProviderRejection reports a non-authorized verdict. Provider messages
// are kept in Details["errors"].
func NewProviderRejection(message string, providerErrors []string) *AppError {
	e := &AppError{
		Code:       CodeProviderRejection,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
	if len(providerErrors) > 0 {
		e.Details = map[string]any{"errors": providerErrors}
	}
	return e
}

// NewArtifactUnavailable reports an artifact that did not materialize within the polling budget.
func NewArtifactUnavailable(kind, docID string) *AppError {
	return &AppError{
		Code:       CodeArtifactUnavailable,
		Message:    fmt.Sprintf("%s for document %s not available", kind, docID),
		HTTPStatus: http.StatusServiceUnavailable,
		Transient:  true,
		Details:    map[string]any{"kind": kind, "doc_id": docID},
	}
}

// NewTransport reports network failures and provider 5xx responses.
func NewTransport(message string, err error) *AppError {
	return &AppError{
		Code:       CodeTransport,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Transient:  true,
		Err:        err,
	}
}

// NewRateLimited reports provider throttling (HTTP 429).
func NewRateLimited(message string) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
		Transient:  true,
	}
}

// NewDuplicateOriginID is returned by stores when the collaborator reference was already ingested.
func NewDuplicateOriginID(origin, originalID, existingID string) *AppError {
	return &AppError{
		Code:       CodeDuplicateOriginID,
		Message:    fmt.Sprintf("entry for %s/%s already exists", origin, originalID),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"origin": origin, "original_id": originalID, "existing_id": existingID},
	}
}

// NewInvalidTransition reports a forbidden status change.
func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("transition %s -> %s not allowed", from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"from": from, "to": to},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode checks if err carries the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsTransient reports whether err is marked transient.
func IsTransient(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Transient
	}
	return false
}

// Label returns the operator-facing kind of err ("ItemValidation", "Transport", ...).
func Label(err error) string {
	if appErr, ok := AsAppError(err); ok {
		if l, ok := labels[appErr.Code]; ok {
			return l
		}
		return appErr.Code
	}
	return "Internal"
}

// Describe renders err as "<Label>: <message>" for last_error.
// Provider rejection details are appended after the message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := AsAppError(err)
	if !ok {
		return "Internal: " + err.Error()
	}
	msg := appErr.Message
	if list, ok := appErr.Details["errors"].([]string); ok && len(list) > 0 {
		for i, s := range list {
			if i == 0 {
				msg += " - " + s
			} else {
				msg += "; " + s
			}
		}
	}
	if appErr.Err != nil && appErr.Code == CodeTransport {
		msg += " (" + appErr.Err.Error() + ")"
	}
	return Label(err) + ": " + msg
}
