package apierror

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeTokenReuse         = "TOKEN_REUSE_DETECTED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeTimeout            = "REQUEST_TIMEOUT"
)

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *APIError by code so callers can use errors.Is with the
// constructors below as targets.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

// Validation joins every violation into a single message.
func Validation(violations ...string) *APIError {
	return New(CodeValidation, strings.Join(violations, "; "), "", http.StatusBadRequest)
}

func InvalidCredentials() *APIError {
	return New(CodeInvalidCredentials, "invalid credentials", "", http.StatusUnauthorized)
}

func Unauthenticated(message string) *APIError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthenticated, message, "", http.StatusUnauthorized)
}

func TokenReuse() *APIError {
	return New(CodeTokenReuse, "refresh token reuse detected; please sign in again", "", http.StatusUnauthorized)
}

func Forbidden(message string) *APIError {
	if message == "" {
		message = "insufficient permissions"
	}
	return New(CodeForbidden, message, "", http.StatusForbidden)
}

func Conflict(message string, details string) *APIError {
	return New(CodeConflict, message, details, http.StatusConflict)
}

func NotFound(message string, details string) *APIError {
	return New(CodeNotFound, message, details, http.StatusNotFound)
}

// Internal never exposes the cause to the client.
func Internal() *APIError {
	return New(CodeInternal, "Unexpected server error", "", http.StatusInternalServerError)
}

func RateLimited() *APIError {
	return New(CodeRateLimited, "Too many requests", "", http.StatusTooManyRequests)
}

func Timeout() *APIError {
	return New(CodeTimeout, "request timed out", "", http.StatusServiceUnavailable)
}
