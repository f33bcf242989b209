package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout")
)

// Pipeline error taxonomy
var (
	// ErrSchema: a required structural column is missing at fit time.
	ErrSchema = errors.New("schema error")
	// ErrNotFitted: transform invoked before fit.
	ErrNotFitted = errors.New("transform not fitted")
	// ErrTransform: a record could not be converted into a feature vector.
	ErrTransform = errors.New("transform error")
	// ErrStaleArtifact: the transform bundle does not match its consumer.
	ErrStaleArtifact = errors.New("stale artifact")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	// Violations lists every rejected field, in bounds-table order
	Violations []string `json:"violations,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error listing every violation
func Validation(message string, violations []string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Violations: violations,
	}
}

// Schema creates an error for missing structural columns
func Schema(missing []string) *AppError {
	details := make(map[string]string, len(missing))
	for _, col := range missing {
		details[col] = "missing"
	}
	return &AppError{
		Err:        ErrSchema,
		Message:    fmt.Sprintf("required columns missing: %v", missing),
		Code:       "SCHEMA_ERROR",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// NotFitted creates an error for use of an unfitted transform
func NotFitted(operation string) *AppError {
	return &AppError{
		Err:        ErrNotFitted,
		Message:    fmt.Sprintf("%s called before fit", operation),
		Code:       "NOT_FITTED",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Transform creates a per-record transform error
func Transform(column string, message string) *AppError {
	return &AppError{
		Err:        ErrTransform,
		Message:    message,
		Code:       "TRANSFORM_ERROR",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"column": column},
	}
}

// StaleArtifact creates an artifact mismatch error
func StaleArtifact(message string) *AppError {
	return &AppError{
		Err:        ErrStaleArtifact,
		Message:    message,
		Code:       "STALE_ARTIFACT",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Timeout creates an error for an upstream call that ran out of time
func Timeout(operation string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrTimeout, err),
		Message:    fmt.Sprintf("%s timed out", operation),
		Code:       "TIMEOUT",
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Err:        appErr.Err,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			HTTPStatus: appErr.HTTPStatus,
			Details:    appErr.Details,
			Violations: appErr.Violations,
		}
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
