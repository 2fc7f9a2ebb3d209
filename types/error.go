package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Orchestration error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrDisabled         ErrorCode = "DISABLED"
	ErrNoStrategy       ErrorCode = "NO_STRATEGY"
	ErrActionExecution  ErrorCode = "ACTION_EXECUTION"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Resource  string    `json:"resource,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithResource records the id of the entity the error is about.
func (e *Error) WithResource(id string) *Error {
	e.Resource = id
	return e
}

// --- constructors ---

// NewValidationError reports a malformed workflow, strategy or pattern definition.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// NewNotFoundError reports an unknown workflow, execution, error or strategy id.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s not found: %s", kind, id)).WithResource(id)
}

// NewDisabledError reports an attempt to execute a workflow that is not enabled.
func NewDisabledError(workflowID string) *Error {
	return NewError(ErrDisabled, fmt.Sprintf("workflow is disabled: %s", workflowID)).WithResource(workflowID)
}

// NewNoStrategyError reports that no recovery strategy matches an error event.
func NewNoStrategyError(errorID string) *Error {
	return NewError(ErrNoStrategy, fmt.Sprintf("no recovery strategy matches error %s", errorID)).WithResource(errorID)
}

// NewActionExecutionError wraps the failure of a workflow or recovery action.
func NewActionExecutionError(actionType string, cause error) *Error {
	return NewError(ErrActionExecution, fmt.Sprintf("action %s failed", actionType)).WithCause(cause)
}

// NewTimeoutError reports an action that did not finish before its deadline.
func NewTimeoutError(actionType string, timeout time.Duration) *Error {
	return NewError(ErrTimeout, fmt.Sprintf("action %s exceeded timeout %s", actionType, timeout))
}

// NewStoreUnavailableError wraps a durable store failure. Store errors are retryable.
func NewStoreUnavailableError(op string, cause error) *Error {
	return NewError(ErrStoreUnavailable, fmt.Sprintf("store unavailable during %s", op)).
		WithCause(cause).
		WithRetryable(true)
}

// --- helpers ---

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any *Error in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
