// Package apperror provides domain-specific error types for the portal.
// These errors carry an HTTP status code, a machine-readable kind and a
// user-safe message. The Echo error handler and the auth service envelope
// map them to responses automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced to clients as "errorKind".
const (
	KindValidation     = "validation"
	KindAuthentication = "authentication"
	KindAuthorization  = "authorization"
	KindNotFound       = "not_found"
	KindConflict       = "conflict"
	KindOTPInvalid     = "otp_invalid"
	KindOTPExpired     = "otp_expired"
	KindOTPLocked      = "otp_locked"
	KindUnavailable    = "unavailable"
	KindInternal       = "internal_error"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (one of the Kind* constants).
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// --- Constructors for common error types ---

// NewValidation creates a 400 error for malformed or missing input.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    KindValidation,
		Message: message,
	}
}

// NewUnauthorized creates a 401 error for bad credentials or an
// invalid/expired session.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    KindAuthentication,
		Message: message,
	}
}

// NewForbidden creates a 403 error for insufficient privilege.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    KindAuthorization,
		Message: message,
	}
}

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    KindNotFound,
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    KindConflict,
		Message: message,
	}
}

// NewOTPInvalid creates a 400 error for a missing, mismatched, unverified
// or already consumed one-time code.
func NewOTPInvalid(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    KindOTPInvalid,
		Message: message,
	}
}

// NewOTPExpired creates a 410 error for a challenge past its expiry.
func NewOTPExpired(message string) *AppError {
	return &AppError{
		Code:    http.StatusGone,
		Type:    KindOTPExpired,
		Message: message,
	}
}

// NewOTPLocked creates a 429 error for a challenge that exhausted its attempts.
func NewOTPLocked(message string) *AppError {
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Type:    KindOTPLocked,
		Message: message,
	}
}

// NewUnavailable creates a 503 error for storage connectivity failures.
// The cause is kept for logging; the client sees a generic message.
func NewUnavailable(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     KindUnavailable,
		Message:  "The service is temporarily unavailable. Please try again later.",
		Internal: err,
	}
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     KindInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// As extracts an *AppError from err, or wraps anything else as internal.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == kind
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names, query structure, or stack traces.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
