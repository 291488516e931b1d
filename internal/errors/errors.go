package errors

import (
	"errors"
	"fmt"
)

// RecallError is the structured error type for coderecall.
// It carries enough context for retry decisions, logging and user presentation.
type RecallError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RecallError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecallError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RecallError with the same code.
func (e *RecallError) Is(target error) bool {
	if t, ok := target.(*RecallError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RecallError) WithDetail(key, value string) *RecallError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RecallError) WithSuggestion(suggestion string) *RecallError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RecallError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RecallError {
	return &RecallError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RecallError from an existing error.
func Wrap(code string, err error) *RecallError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Matching is by code, so any RecallError
// carrying the same code satisfies errors.Is(err, ErrBusy) and friends.
var (
	ErrBusy                = New(ErrCodeBusy, "indexing run already active for repository", nil)
	ErrRateLimitExceeded   = New(ErrCodeRateLimitExceeded, "embedding rate limit exceeded", nil)
	ErrProviderUnavailable = New(ErrCodeProviderUnavailable, "embedding provider unavailable", nil)
	ErrDimensionMismatch   = New(ErrCodeDimensionMismatch, "vector dimension mismatch", nil)
	ErrBackendUnavailable  = New(ErrCodeBackendUnavailable, "vector store backend unavailable", nil)
	ErrCollectionNotFound  = New(ErrCodeCollectionNotFound, "collection not found", nil)
	ErrParseFailed         = New(ErrCodeParseFailed, "parse failed", nil)
	ErrRunTimeout          = New(ErrCodeRunTimeout, "indexing run exceeded its time limit", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RecallError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RecallError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RecallError {
	return New(ErrCodeInternal, message, cause)
}

// BusyError reports that a run for repoID is already active.
func BusyError(repoID string) *RecallError {
	return New(ErrCodeBusy, fmt.Sprintf("indexing run already active for %q", repoID), nil).
		WithDetail("repository", repoID)
}

// DimensionMismatchError reports a vector whose size differs from the collection.
func DimensionMismatchError(want, got int) *RecallError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension %d does not match collection dimension %d", got, want), nil).
		WithDetail("expected", fmt.Sprint(want)).
		WithDetail("actual", fmt.Sprint(got))
}

// BackendUnavailable wraps a vector store transport failure.
func BackendUnavailable(backend string, cause error) *RecallError {
	return New(ErrCodeBackendUnavailable, backend+" backend unavailable", cause).
		WithDetail("backend", backend)
}

// As returns the first RecallError in err's chain.
func As(err error) (*RecallError, bool) {
	var re *RecallError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable checks if any RecallError in the chain is retryable.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if re, ok := As(err); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the chain.
// Returns empty string if no RecallError is present.
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from the chain.
func GetCategory(err error) Category {
	if re, ok := As(err); ok {
		return re.Category
	}
	return ""
}
