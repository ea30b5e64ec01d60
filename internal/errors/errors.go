package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// GateError is the structured error type for raggate.
// It provides rich context for error handling, logging, and client responses.
type GateError struct {
	// Code is the unique error code (e.g., "ERR_301_NOT_FOUND").
	Code string

	// Kind is the coarse classification exposed to transports.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GateError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with GateError.
func (e *GateError) Is(target error) bool {
	if t, ok := target.(*GateError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *GateError) WithDetail(key, value string) *GateError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
// Returns the error for method chaining.
func (e *GateError) WithSuggestion(suggestion string) *GateError {
	e.Suggestion = suggestion
	return e
}

// New creates a new GateError with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *GateError {
	return &GateError{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a GateError from an existing error.
// The error's message becomes the GateError message.
func Wrap(code string, err error) *GateError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Unauthenticated creates an authentication error.
func Unauthenticated(message string, cause error) *GateError {
	return New(ErrCodeUnauthenticated, message, cause)
}

// OrganizationRequired creates an error for authenticated users with no
// organization. Access fails closed until an organization is assigned.
func OrganizationRequired(message string) *GateError {
	return New(ErrCodeOrgRequired, message, nil)
}

// OrganizationForbidden creates a cross-organization denial. Callers must
// log it as a security event; transports surface it as NotFound.
func OrganizationForbidden(message string) *GateError {
	return New(ErrCodeOrgForbidden, message, nil)
}

// NotFound creates an error for a document, chunk, or file that does not exist.
func NotFound(message string, cause error) *GateError {
	return New(ErrCodeNotFound, message, cause)
}

// InvalidInput creates an input validation error.
func InvalidInput(message string, cause error) *GateError {
	return New(ErrCodeInvalidInput, message, cause)
}

// Busy creates a capacity error for the ingest pipeline.
func Busy(message string) *GateError {
	return New(ErrCodeBusy, message, nil)
}

// Cancelled creates an error for an operation abandoned by the caller.
func Cancelled(message string, cause error) *GateError {
	return New(ErrCodeCancelled, message, cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *GateError {
	return New(ErrCodeInternal, message, cause)
}

// AsGateError extracts a GateError from anywhere in the error chain.
func AsGateError(err error) (*GateError, bool) {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the kind of an error. Context cancellation and deadline
// errors classify as KindCancelled; other foreign errors as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ge, ok := AsGateError(err); ok {
		return ge.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether the error classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether the error is a not-found error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsCancelled reports whether the error is a cancellation.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains a GateError with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := AsGateError(err); ok {
		return ge.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := AsGateError(err); ok {
		return ge.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a GateError in the chain.
// Returns empty string if no GateError is present.
func GetCode(err error) string {
	if ge, ok := AsGateError(err); ok {
		return ge.Code
	}
	return ""
}

// PublicKind returns the kind safe to expose to clients. Cross-organization
// denials surface as NotFound so callers cannot probe for the existence of
// other tenants' documents.
func PublicKind(err error) Kind {
	kind := KindOf(err)
	if kind == KindOrganizationForbidden {
		return KindNotFound
	}
	return kind
}

// HTTPStatus maps an error to its HTTP response status.
func HTTPStatus(err error) int {
	switch PublicKind(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindOrganizationRequired, KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusTooManyRequests
	case KindEmbeddingUnavailable, KindIndexUnavailable, KindLLMUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		// Client closed request (nginx convention, no stdlib constant).
		return 499
	default:
		return http.StatusInternalServerError
	}
}
