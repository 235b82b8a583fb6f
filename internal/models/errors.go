package models

import (
	"errors"
	"fmt"
)

// Common service errors
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrTeamNotFound    = errors.New("team not found")
	ErrPricingNotFound = errors.New("pricing not found for hardware class")

	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrValidationFailed    = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrProviderSubmission = errors.New("provider submission failed")
	ErrProviderPoll       = errors.New("provider status poll failed")

	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrBilledSecondsRegression marks an internal invariant violation:
	// the billed-seconds watermark would exceed reported execution
	// seconds. Treated as a defect, never silently clamped.
	ErrBilledSecondsRegression = errors.New("billed seconds would exceed execution seconds")
)

// ApiError is a structured error with a stable code and context details.
type ApiError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *ApiError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ApiError) Unwrap() error {
	return e.Cause
}

// NewApiError creates a new ApiError.
func NewApiError(code, message string, cause error) *ApiError {
	return &ApiError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the error.
func (e *ApiError) WithDetail(key string, value interface{}) *ApiError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes for structured error handling
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeProviderSubmission  = "PROVIDER_SUBMISSION_FAILURE"
	ErrCodeProviderPoll        = "PROVIDER_POLL_FAILURE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Common error constructors

func NewValidationError(field, message string) *ApiError {
	return NewApiError(ErrCodeValidationFailed, "Validation failed", ErrValidationFailed).
		WithDetail("field", field).
		WithDetail("message", message)
}

func NewNotFoundError(resource, id string) *ApiError {
	return NewApiError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// NewInsufficientBalanceError carries the shortfall and which ledger was
// checked. Always evaluated before any job record is created.
func NewInsufficientBalanceError(kind AccountKind, requiredMinor, availableMinor int64) *ApiError {
	return NewApiError(ErrCodeInsufficientBalance, "Insufficient balance", ErrInsufficientBalance).
		WithDetail("ledger", string(kind)).
		WithDetail("required_minor", requiredMinor).
		WithDetail("available_minor", availableMinor)
}

func NewProviderSubmissionError(cause error) *ApiError {
	return NewApiError(ErrCodeProviderSubmission, "Provider submission failed", cause)
}
