// Package apperror provides domain-specific error types for Haven.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to appropriate HTTP responses automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"fmt"
	"net/http"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 401, 403, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "session_expired").
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

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    "not_found",
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    "bad_request",
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "unauthorized",
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    "forbidden",
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    "conflict",
		Message: message,
	}
}

// NewValidation creates a 422 Unprocessable Entity error for validation failures.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    "validation_error",
		Message: message,
	}
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     "internal_error",
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// --- Authentication guard outcomes ---
// Each rejection the authentication and authorization guards can produce
// has its own Type so clients and logs can tell them apart. All are
// expected client conditions, not server faults.

// NewNoSessionToken creates a 401 for requests without a session cookie.
func NewNoSessionToken() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "no_session_token",
		Message: "authentication required",
	}
}

// NewInvalidSessionToken creates a 401 for cookies whose token fails
// signature verification or carries an expired claim.
func NewInvalidSessionToken() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "invalid_session_token",
		Message: "session token is invalid",
	}
}

// NewSessionExpired creates a 401 for tokens that verify but whose backing
// session no longer exists in the session store.
func NewSessionExpired() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "session_expired",
		Message: "session has expired, please log in again",
	}
}

// NewUserNotFound creates a 401 for sessions whose owning user record is
// gone (deleted mid-session).
func NewUserNotFound() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "user_not_found",
		Message: "account no longer exists",
	}
}

// NewAuthFailed creates a 401 for unexpected guard errors. The underlying
// cause is kept in Internal for error-level logging.
func NewAuthFailed(err error) *AppError {
	return &AppError{
		Code:     http.StatusUnauthorized,
		Type:     "auth_failed",
		Message:  "authentication failed",
		Internal: err,
	}
}

// NewOAuthRestartLogin creates a 401 for OAuth callbacks whose state is
// unknown, expired, or already consumed. Distinct from credential failures
// so clients know the remedy is restarting the provider flow, not
// re-entering credentials.
func NewOAuthRestartLogin() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    "oauth_restart_login",
		Message: "sign-in attempt expired or already used, please try again",
	}
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names, query structure, or stack traces.
func SafeMessage(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
