package domain

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorKind tags every error surfaced by the page API.
type ErrorKind string

const (
	KindInvalidConfig ErrorKind = "INVALID_CONFIG"
	KindFetch         ErrorKind = "FETCH_ERROR"
	KindParse         ErrorKind = "PARSE_ERROR"
	KindCache         ErrorKind = "CACHE_ERROR"
	KindTimeout       ErrorKind = "TIMEOUT_ERROR"
)

// Error is the typed error carried through the pipeline. Status is the
// HTTP-equivalent status code; zero means "not set".
type Error struct {
	Kind       ErrorKind
	Message    string
	Status     int
	Violations []string
	Err        error
}

func NewError(kind ErrorKind, message string, status int, cause error) *Error {
	return &Error{Kind: kind, Message: message, Status: status, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status to respond with, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// NewValidationError aggregates config violations into a single INVALID_CONFIG error.
func NewValidationError(violations []string) *Error {
	return &Error{
		Kind:       KindInvalidConfig,
		Message:    "invalid configuration: " + strings.Join(violations, "; "),
		Violations: violations,
	}
}

// AsError normalizes any error into one of the known kinds. Errors that are
// not *Error become FETCH_ERROR with status 500.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && isKnownKind(de.Kind) {
		return de
	}
	return &Error{
		Kind:    KindFetch,
		Message: err.Error(),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func isKnownKind(k ErrorKind) bool {
	switch k {
	case KindInvalidConfig, KindFetch, KindParse, KindCache, KindTimeout:
		return true
	}
	return false
}
