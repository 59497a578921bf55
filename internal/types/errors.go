package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	// Validation errors
	ErrCodeInvalidTime          ErrorCode = "validation_invalid_time"
	ErrCodeInvalidTimezone      ErrorCode = "validation_invalid_timezone"
	ErrCodeMissingRequiredField ErrorCode = "validation_missing_required_field"

	// Not found errors
	ErrCodeReminderNotFound ErrorCode = "not_found_reminder"
	ErrCodeUserNotFound     ErrorCode = "not_found_user"

	// Conflict errors
	ErrCodeLockHeld ErrorCode = "conflict_lock_held"

	// Upstream errors
	ErrCodeUpstreamPushProvider ErrorCode = "upstream_push_provider"
	ErrCodeUpstreamRateLimited  ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable  ErrorCode = "upstream_unavailable"

	// Internal errors
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the application error type. It carries a stable code for
// programmatic handling, a human-readable message, and an optional wrapped
// cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
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

// NewAppError creates an AppError wrapping an optional cause.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetails attaches structured context to the error and returns it.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// HTTPStatus maps the error code to an HTTP status for the ops endpoints.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidTime, ErrCodeInvalidTimezone, ErrCodeMissingRequiredField:
		return http.StatusBadRequest
	case ErrCodeReminderNotFound, ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeLockHeld:
		return http.StatusConflict
	case ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUpstreamUnavailable, ErrCodeUpstreamPushProvider:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsAppError extracts an *AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
