// Package errors provides the structured error type used across the accelerator:
// every failure carries a code, a category, the component and operation that
// produced it, and a hint on whether retrying can help.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Network and object store
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeFetchFailed    ErrorCode = "FETCH_FAILED"

	// Resources
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeCacheError        ErrorCode = "CACHE_ERROR"
	ErrCodeWorkerBusy        ErrorCode = "WORKER_BUSY"

	// State
	ErrCodeInitializationFailed ErrorCode = "INITIALIZATION_FAILED"
	ErrCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrCodeComponentStopped     ErrorCode = "COMPONENT_STOPPED"

	// Operations
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// AcceleratorError is a structured error with context and metadata.
type AcceleratorError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *AcceleratorError) Error() string {
	var msg string
	switch {
	case e.Component != "" && e.Operation != "":
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	case e.Component != "":
		msg = fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	default:
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *AcceleratorError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AcceleratorError with the same code.
func (e *AcceleratorError) Is(target error) bool {
	if other, ok := target.(*AcceleratorError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *AcceleratorError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("AcceleratorError{%s}", strings.Join(parts, ", "))
}

// NewError creates an error with the defaults for its code.
func NewError(code ErrorCode, message string) *AcceleratorError {
	return &AcceleratorError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AcceleratorError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// InvalidInput reports a precondition violation by the caller.
func InvalidInput(operation, format string, args ...interface{}) *AcceleratorError {
	return Newf(ErrCodeValidationFailed, format, args...).WithOperation(operation)
}

// GetCategory determines the category of a code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeObjectNotFound, ErrCodeAccessDenied, ErrCodeFetchFailed:
		return CategoryStorage
	case ErrCodeResourceExhausted, ErrCodeCacheError, ErrCodeWorkerBusy:
		return CategoryResource
	case ErrCodeInitializationFailed, ErrCodeInvalidState, ErrCodeComponentStopped:
		return CategoryState
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeRetryExhausted, ErrCodeValidationFailed:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a fresh error with code is retryable.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeOperationTimeout, ErrCodeResourceExhausted,
		ErrCodeWorkerBusy, ErrCodeFetchFailed, ErrCodeInternalError:
		return true
	}
	return false
}

// WithDetail adds a detail value.
func (e *AcceleratorError) WithDetail(key string, value interface{}) *AcceleratorError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *AcceleratorError) WithComponent(component string) *AcceleratorError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *AcceleratorError) WithOperation(operation string) *AcceleratorError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *AcceleratorError) WithCause(cause error) *AcceleratorError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retry hint.
func (e *AcceleratorError) WithRetryable(retryable bool) *AcceleratorError {
	e.Retryable = retryable
	return e
}

// CodeOf returns the code of the first AcceleratorError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ae *AcceleratorError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// IsCode reports whether err's chain holds an AcceleratorError with code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AcceleratorError
	for err != nil {
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Cause
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Context
// cancellation never is; deadline expiry always is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *AcceleratorError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// FromContext converts a context error into a timeout or cancellation error.
func FromContext(err error, operation string) *AcceleratorError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrCodeOperationTimeout, "deadline exceeded").WithOperation(operation).WithCause(err)
	}
	return NewError(ErrCodeOperationCanceled, "operation canceled").WithOperation(operation).WithCause(err)
}
