package authclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("authclient: not authenticated")
	ErrTokenReuse      = errors.New("authclient: refresh token reuse detected")
	ErrBusy            = errors.New("authclient: session is busy")
)

// APIError is the error envelope returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s (%s)", e.Status, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap lets callers test with errors.Is against ErrTokenReuse and
// ErrUnauthenticated. A detected reuse matches both.
func (e *APIError) Unwrap() []error {
	var errs []error
	if e.Code == "TOKEN_REUSE_DETECTED" {
		errs = append(errs, ErrTokenReuse)
	}
	if e.Status == http.StatusUnauthorized {
		errs = append(errs, ErrUnauthenticated)
	}
	return errs
}
