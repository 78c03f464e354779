package idp

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that resolution found no usable directory identity.
var ErrNotFound = errors.New("identity not found")

// ValidationError reports malformed or missing caller input. Surfaced as a
// 400 and never retried.
type ValidationError struct {
	Message string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }

// AccessDeniedError reports a domain allow-list rejection. Surfaced as a 403.
type AccessDeniedError struct {
	Email string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("email domain is not allowed: %s", e.Email)
}

// SignerError wraps a failure of the signing capability. Surfaced as a 502,
// never silently swallowed.
type SignerError struct {
	Err error
}

func (e *SignerError) Error() string { return fmt.Sprintf("signing failed: %v", e.Err) }
func (e *SignerError) Unwrap() error { return e.Err }
