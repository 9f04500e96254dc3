// Package errors provides the error taxonomy for the domain layer.
// Every money-movement failure falls into one of four categories that
// determine how the caller reacts: transient failures are retried by the
// queue, validation failures surface to the API consumer, consistency
// violations are successful no-ops, and configuration failures demand
// operator intervention.
package errors

import (
	"errors"
	"fmt"
)

// Error categories
var (
	// ErrTransient marks a recoverable external failure (gateway 5xx,
	// network). Retried by the work queue with backoff.
	ErrTransient = errors.New("transient external error")

	// ErrValidation marks permanently invalid input (unsupported currency
	// or chain, malformed address). Never retried.
	ErrValidation = errors.New("validation error")

	// ErrConsistency marks an already-applied state transition (duplicate
	// webhook, refunded payment, terminal ledger transaction). Treated as
	// a successful no-op.
	ErrConsistency = errors.New("consistency violation")

	// ErrConfig marks a fatal configuration gap (missing master wallet,
	// missing signing key). The job fails permanently; never degrade into
	// an incorrect ledger mutation.
	ErrConfig = errors.New("configuration error")

	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInsufficientBalance indicates an internal debit would take the
	// available balance below zero. Surfaced to the caller, never clamped.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// DomainError carries category, code and context for a domain failure.
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// Transient creates a retryable external error
func Transient(op string, err error) *DomainError {
	return &DomainError{
		Err:     fmt.Errorf("%w: %s: %v", ErrTransient, op, err),
		Code:    "TRANSIENT_EXTERNAL",
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}

// Validation creates a permanent validation error
func Validation(code, message string) *DomainError {
	return &DomainError{
		Err:     ErrValidation,
		Code:    code,
		Message: message,
	}
}

// Consistency creates a consistency-violation error. Callers treat these
// as successful no-ops.
func Consistency(code, message string) *DomainError {
	return &DomainError{
		Err:     ErrConsistency,
		Code:    code,
		Message: message,
	}
}

// Config creates a fatal configuration error
func Config(code, message string) *DomainError {
	return &DomainError{
		Err:     ErrConfig,
		Code:    code,
		Message: message,
	}
}

// NotFound creates a not found error
func NotFound(code, message string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    code,
		Message: message,
	}
}

// InsufficientBalance creates an insufficient-balance error
func InsufficientBalance(message string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientBalance,
		Code:    "INSUFFICIENT_BALANCE",
		Message: message,
	}
}

// IsTransient checks whether an error is retryable
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsValidation checks whether an error is a permanent validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConsistency checks whether an error is an already-applied transition
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsConfig checks whether an error is a fatal configuration gap
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInsufficientBalance checks if an error is an insufficient balance error
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// ShouldRetry reports whether the queue's retry machinery should retry the
// error. Validation, consistency and configuration failures never resolve
// by retrying; transient failures do, and unclassified errors default to
// retryable so that an unknown network condition is not dropped.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || IsConsistency(err) || IsConfig(err) || IsInsufficientBalance(err) || IsNotFound(err) {
		return false
	}
	return true
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}
