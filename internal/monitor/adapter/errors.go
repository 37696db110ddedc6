package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an adapter failure into the categories spec §7
// assigns distinct engine policies to.
type ErrorKind string

const (
	// ErrConnectionUnavailable means credentials were missing, expired, or
	// failed to decrypt. Policy: monitor -> status=error, no automatic retry.
	ErrConnectionUnavailable ErrorKind = "connection_unavailable"

	// ErrProviderTransient means a 5xx, timeout, 429, or connection reset.
	// Policy: monitor -> status=error, cursor untouched, next tick retries.
	ErrProviderTransient ErrorKind = "provider_transient"

	// ErrProviderPermanent means a 4xx other than 401/403/429 — invalid
	// channel, revoked scope, and similar. Policy: monitor -> status=error,
	// requires admin action.
	ErrProviderPermanent ErrorKind = "provider_permanent"

	// ErrEnrichment means a non-fatal per-message enrichment call failed
	// (permalink, user resolve, context fetch). Policy: swallow, emit the
	// event with the missing field left zero-valued.
	ErrEnrichment ErrorKind = "enrichment_failure"
)

// Error is the single error type every Adapter implementation returns for a
// classified failure, mirroring the shape of the reference stack's
// model.ProviderError: a stable kind for policy decisions, an optional
// retryable hint, and the wrapped cause.
type Error struct {
	Kind      ErrorKind
	Provider  string
	Operation string
	HTTPStatus int
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewConnectionError builds an ErrConnectionUnavailable error.
func NewConnectionError(provider, op, msg string, cause error) *Error {
	return &Error{Kind: ErrConnectionUnavailable, Provider: provider, Operation: op, Message: msg, Cause: cause}
}

// NewTransientError builds an ErrProviderTransient error from an HTTP status
// (0 when the failure was a timeout/connection reset rather than a response).
func NewTransientError(provider, op string, httpStatus int, msg string, cause error) *Error {
	return &Error{Kind: ErrProviderTransient, Provider: provider, Operation: op, HTTPStatus: httpStatus, Message: msg, Retryable: true, Cause: cause}
}

// NewPermanentError builds an ErrProviderPermanent error.
func NewPermanentError(provider, op string, httpStatus int, msg string, cause error) *Error {
	return &Error{Kind: ErrProviderPermanent, Provider: provider, Operation: op, HTTPStatus: httpStatus, Message: msg, Cause: cause}
}

// IsTransient reports whether err is an *Error classified as transient,
// unwrapping through any wrapper chain.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == ErrProviderTransient
	}
	return false
}
