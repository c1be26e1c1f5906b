// Package errors defines the structured error type used across the sync
// engine. The Retryable flag on an error decides whether a failed embedding
// operation lands in the durable retry queue or is logged and dropped.
package errors

import (
	stderrors "errors"
	"fmt"
)

// SyncError is the structured error type for the engine.
type SyncError struct {
	// Code is the unique error code (e.g., "ERR_302_PROVIDER_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Store, Provider, Vector, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is() with sentinel SyncErrors.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SyncError from an existing error.
// Returns nil if err is nil.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ProviderError creates an embedding-provider error (retryable).
func ProviderError(message string, cause error) *SyncError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// VectorError creates a vector-index error (retryable).
func VectorError(message string, cause error) *SyncError {
	return New(ErrCodeVectorUnavailable, message, cause)
}

// LexicalError creates a lexical-index error (retryable).
func LexicalError(message string, cause error) *SyncError {
	return New(ErrCodeLexicalUnavailable, message, cause)
}

// StoreError creates a relational-store error (retryable).
func StoreError(message string, cause error) *SyncError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// EmptyTextError creates a permanent error for unembeddable source text.
func EmptyTextError(workID string) *SyncError {
	return New(ErrCodeEmptyText, "record has no embeddable text", nil).
		WithDetail("work_id", workID)
}

// NotFoundError creates a permanent error for a missing source record.
func NotFoundError(workID string) *SyncError {
	return New(ErrCodeRecordNotFound, "record not found", nil).
		WithDetail("work_id", workID)
}

// IsRetryable reports whether an error is transient and worth re-running.
// The error chain is unwrapped; non-SyncError values are conservatively
// treated as non-retryable.
func IsRetryable(err error) bool {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCode extracts the error code from a SyncError anywhere in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SyncError anywhere in the chain.
func GetCategory(err error) Category {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Category
	}
	return ""
}
