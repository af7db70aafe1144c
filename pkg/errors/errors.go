// Package errors provides the structured error system for animeta with
// error codes, categories, and breaker-classification helpers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Code identifies a specific failure mode.
type Code string

const (
	// Validation errors (rejected before any I/O or mutation).
	CodeInvalidKey   Code = "INVALID_KEY"
	CodeInvalidValue Code = "INVALID_VALUE"

	// Storage errors, breaker-tripping kinds: transient infrastructure
	// failures where failing fast against a known-bad store helps.
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	CodeConnectionLost   Code = "CONNECTION_LOST"
	CodeOperationTimeout Code = "OPERATION_TIMEOUT"
	CodeStorageBusy      Code = "STORAGE_BUSY"
	CodeStorageInternal  Code = "STORAGE_INTERNAL"

	// Storage errors, non-tripping kinds: caller or schema bugs that
	// retrying or breaking the circuit cannot fix.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	CodeMalformedQuery      Code = "MALFORMED_QUERY"
	CodeDataTooLong         Code = "DATA_TOO_LONG"

	// Serialization errors (corrupt or incompatible cached data).
	CodeDeserialization Code = "DESERIALIZATION_FAILED"
	CodeSerialization   Code = "SERIALIZATION_FAILED"
	CodeEnvelopeVersion Code = "ENVELOPE_VERSION_UNSUPPORTED"

	// Circuit breaker errors.
	CodeCircuitOpen Code = "CIRCUIT_OPEN"

	// State management errors.
	CodeAlreadyStarted Code = "ALREADY_STARTED"
	CodeNotInitialized Code = "NOT_INITIALIZED"
	CodeInvalidState   Code = "INVALID_STATE"

	// Internal errors.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Category groups codes by the handling policy they share.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryStorage       Category = "storage"
	CategorySerialization Category = "serialization"
	CategoryCircuit       Category = "circuit"
	CategoryState         Category = "state"
	CategoryInternal      Category = "internal"
)

// Error is a structured error with a code, category, and optional context.
type Error struct {
	Code      Code      `json:"code"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Component != "" {
		sb.WriteString("[")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(":")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("] ")
	}
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinel comparisons survive wrapping.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New creates a structured error. Category and retryability are derived
// from the code.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithComponent sets the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation during which the error occurred.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithKey records the cache key being operated on.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithCause attaches the underlying low-level error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability of the code.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func categoryOf(code Code) Category {
	switch code {
	case CodeInvalidKey, CodeInvalidValue:
		return CategoryValidation
	case CodeConnectionFailed, CodeConnectionLost, CodeOperationTimeout,
		CodeStorageBusy, CodeStorageInternal, CodeConstraintViolation,
		CodeMalformedQuery, CodeDataTooLong:
		return CategoryStorage
	case CodeDeserialization, CodeSerialization, CodeEnvelopeVersion:
		return CategorySerialization
	case CodeCircuitOpen:
		return CategoryCircuit
	case CodeAlreadyStarted, CodeNotInitialized, CodeInvalidState:
		return CategoryState
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code Code) bool {
	switch code {
	case CodeConnectionFailed, CodeConnectionLost, CodeOperationTimeout,
		CodeStorageBusy, CodeStorageInternal:
		return true
	default:
		return false
	}
}

// trippingCodes are the storage failure kinds that count toward the
// circuit breaker's consecutive-failure threshold.
var trippingCodes = map[Code]bool{
	CodeConnectionFailed: true,
	CodeConnectionLost:   true,
	CodeOperationTimeout: true,
	CodeStorageBusy:      true,
	CodeStorageInternal:  true,
}

// IsBreakerTripping reports whether err should count toward the circuit
// breaker failure threshold. Constraint violations and other caller bugs
// pass through without tripping.
func IsBreakerTripping(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return trippingCodes[e.Code]
	}
	// Unclassified errors from the store are treated as infrastructure
	// failures so a misbehaving backend still opens the breaker.
	return true
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Category == CategoryValidation
}

// IsSerialization reports whether err is a serialization error.
func IsSerialization(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Category == CategorySerialization
}

// IsCircuitOpen reports whether err is the breaker's synthetic rejection.
func IsCircuitOpen(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Code == CodeCircuitOpen
}

// CodeOf extracts the structured code from err, or CodeInternal when err
// carries no classification.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
