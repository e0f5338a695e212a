package errors

import (
	stderrors "errors"
	"fmt"
)

// VaultError is the structured error type for vaultrag.
// It carries enough context for logging, CLI presentation and MCP mapping.
type VaultError struct {
	// Code is the unique error code (e.g., "ERR_302_NETWORK_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is matches another VaultError by code, so errors.Is works with
// sentinel values built by New.
func (e *VaultError) Is(target error) bool {
	if t, ok := target.(*VaultError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *VaultError) WithDetail(key, value string) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *VaultError) WithSuggestion(suggestion string) *VaultError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VaultError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VaultError from an existing error.
// The error's message becomes the VaultError message.
func Wrap(code string, err error) *VaultError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VaultError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// UnavailableError creates an error for an unreachable provider.
func UnavailableError(message string, cause error) *VaultError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *VaultError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VaultError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first VaultError in err's chain.
func as(err error) (*VaultError, bool) {
	var ve *VaultError
	if err != nil && stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ve, ok := as(err); ok {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ve, ok := as(err); ok {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first VaultError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ve, ok := as(err); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from the first VaultError in the chain.
func GetCategory(err error) Category {
	if ve, ok := as(err); ok {
		return ve.Category
	}
	return ""
}
