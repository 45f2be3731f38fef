// Package apperr defines the typed error kinds shared across the API,
// workers, and providers, and the single place that maps them to HTTP
// status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and logging. It never carries
// a message itself — that lives on Error.
type Kind string

const (
	InvalidInput           Kind = "InvalidInput"
	InvalidIdempotencyKey  Kind = "InvalidIdempotencyKey"
	IdempotencyConflict    Kind = "IdempotencyConflict"
	QuoteExpired           Kind = "QuoteExpired"
	InvalidStateTransition Kind = "InvalidStateTransition"
	NotFound               Kind = "NotFound"
	InsufficientBalance    Kind = "InsufficientBalance"
	RateUnavailable        Kind = "RateUnavailable"
	ProviderFailure        Kind = "ProviderFailure"
	Internal               Kind = "Internal"
)

// Error is the typed error carried across layer boundaries. Wrap with
// fmt.Errorf("...: %w", err) at each boundary rather than constructing a
// new Error, so Kind survives errors.As unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind of err, defaulting to Internal if err does not
// carry one. A nil error also yields Internal, so callers should not call
// KindOf on a nil error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code the HTTP surface returns for it.
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidInput, QuoteExpired, InvalidStateTransition, InvalidIdempotencyKey, InsufficientBalance, RateUnavailable:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case IdempotencyConflict:
		return http.StatusConflict
	case ProviderFailure, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
