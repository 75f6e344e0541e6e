// Package errors provides structured error types for the shard routing core.
// All errors include a category, code, message, and retryable flag so callers
// can dispatch on failure class without parsing messages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryRouting  ErrorCategory = "ROUTING"
	ErrCategoryRegistry ErrorCategory = "REGISTRY"
	ErrCategoryBreaker  ErrorCategory = "BREAKER"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategoryScaling  ErrorCategory = "SCALING"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Routing codes
	CodeNoEligiblePartition = "NO_ELIGIBLE_PARTITION"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"

	// Registry codes
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateIdentity = "DUPLICATE_IDENTITY"

	// Breaker codes
	CodeCircuitOpen = "CIRCUIT_OPEN"

	// Query codes
	CodeTimeout            = "TIMEOUT"
	CodePartialAggregation = "PARTIAL_AGGREGATION"

	// Scaling codes
	CodeProvisionFailed = "PROVISION_FAILED"
	CodeSnapshotFailed  = "SNAPSHOT_FAILED"

	// Internal codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeUnexpected    = "UNEXPECTED"
)

// ShardError is the structured error type used throughout the routing core.
type ShardError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ShardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ShardError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ShardError) Is(target error) bool {
	var t *ShardError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ShardError.
func New(category ErrorCategory, code, message string) *ShardError {
	return &ShardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Wrap creates a new ShardError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ShardError {
	return &ShardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ShardError) WithDetails(details map[string]interface{}) *ShardError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// Retryable here means the *caller* may retry with backoff; the routing core
// itself never retries internally.
func IsRetryable(err error) bool {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ShardError.
func GetCategory(err error) ErrorCategory {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ShardError.
func GetCode(err error) string {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable determines if an error code may be retried by the caller.
// Blind retry against an overloaded partition worsens the failure, so only
// conditions that clear on their own qualify.
func isRetryable(code string) bool {
	switch code {
	case CodeServiceUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewRoutingError(code, message string) *ShardError {
	return New(ErrCategoryRouting, code, message)
}

func NewRegistryError(code, message string) *ShardError {
	return New(ErrCategoryRegistry, code, message)
}

func NewBreakerError(code, message string) *ShardError {
	return New(ErrCategoryBreaker, code, message)
}

func NewQueryError(code, message string) *ShardError {
	return New(ErrCategoryQuery, code, message)
}

func NewScalingError(code, message string, cause error) *ShardError {
	return Wrap(ErrCategoryScaling, code, message, cause)
}

func NewInternalError(message string, cause error) *ShardError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
