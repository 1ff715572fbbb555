package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures surfaced by the sync core
type ErrorType string

const (
	// Local errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeInternal   ErrorType = "INTERNAL"

	// Remote-store errors
	ErrorTypeNetwork  ErrorType = "NETWORK"
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
	ErrorTypeRemote   ErrorType = "REMOTE"
	ErrorTypeCanceled ErrorType = "CANCELED"
)

// SyncError is the error type carried across component boundaries.
// Remote-store failures are tagged retryable so the committer can decide
// between rescheduling and dropping.
type SyncError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"-"`
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured context
func (e *SyncError) WithDetails(details map[string]interface{}) *SyncError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *SyncError) WithCause(err error) *SyncError {
	e.Cause = err
	return e
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *SyncError {
	return &SyncError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *SyncError {
	return &SyncError{Type: ErrorTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *SyncError {
	return &SyncError{Type: ErrorTypeConflict, Message: message}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *SyncError {
	return &SyncError{Type: ErrorTypeInternal, Message: message}
}

// NewNetworkError creates a transient network error; always retryable
func NewNetworkError(message string, err error) *SyncError {
	return &SyncError{Type: ErrorTypeNetwork, Message: message, Cause: err, Retryable: true}
}

// NewTimeoutError creates a timeout error; retryable
func NewTimeoutError(operation string) *SyncError {
	return &SyncError{
		Type:      ErrorTypeTimeout,
		Message:   fmt.Sprintf("operation '%s' timed out", operation),
		Retryable: true,
	}
}

// NewRemoteError creates an error for a non-2xx remote-store response.
// 5xx responses are considered transient.
func NewRemoteError(operation string, statusCode int, err error) *SyncError {
	return &SyncError{
		Type:      ErrorTypeRemote,
		Message:   fmt.Sprintf("remote store rejected '%s' with status %d", operation, statusCode),
		Cause:     err,
		Retryable: statusCode >= 500,
		Details:   map[string]interface{}{"status": statusCode},
	}
}

// NewCanceledError marks work superseded by a newer request
func NewCanceledError(operation string) *SyncError {
	return &SyncError{Type: ErrorTypeCanceled, Message: fmt.Sprintf("operation '%s' canceled", operation)}
}

// Helper functions

// GetSyncError extracts a SyncError from an error chain
func GetSyncError(err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	syncErr := GetSyncError(err)
	return syncErr != nil && syncErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsCanceled checks if an error marks superseded work
func IsCanceled(err error) bool {
	return IsType(err, ErrorTypeCanceled)
}

// IsRetryable reports whether the failure is worth another commit pass.
// Unclassified errors default to retryable so nothing is silently dropped.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if syncErr := GetSyncError(err); syncErr != nil {
		return syncErr.Retryable
	}
	return true
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if syncErr := GetSyncError(err); syncErr != nil {
		syncErr.Message = fmt.Sprintf("%s: %s", message, syncErr.Message)
		return syncErr
	}
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
