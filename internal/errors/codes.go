// Package errors provides structured error handling for coderecall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and parsing errors
//   - 3XX: Embedding provider and vector backend errors
//   - 4XX: Validation errors
//   - 5XX: Internal and run-control errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and parse errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates failures talking to an external dependency.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates internal and run-control errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeParseFailed  = "ERR_201_PARSE_FAILED"
	ErrCodeFileRead     = "ERR_202_FILE_READ"
	ErrCodeStateCorrupt = "ERR_203_STATE_CORRUPT"
	ErrCodeStateStore   = "ERR_204_STATE_STORE"

	// Network errors (300-399)
	ErrCodeRateLimitExceeded   = "ERR_301_RATE_LIMIT_EXCEEDED"
	ErrCodeProviderUnavailable = "ERR_302_PROVIDER_UNAVAILABLE"
	ErrCodeProviderTransient   = "ERR_303_PROVIDER_TRANSIENT"
	ErrCodeBackendUnavailable  = "ERR_304_BACKEND_UNAVAILABLE"
	ErrCodeLockUnavailable     = "ERR_305_LOCK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch  = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty         = "ERR_403_QUERY_EMPTY"
	ErrCodeCollectionNotFound = "ERR_404_COLLECTION_NOT_FOUND"
	ErrCodeUnknownBackend     = "ERR_405_UNKNOWN_BACKEND"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeBusy        = "ERR_502_BUSY"
	ErrCodeRunTimeout  = "ERR_503_RUN_TIMEOUT"
	ErrCodeRunCanceled = "ERR_504_RUN_CANCELED"
	ErrCodeIndexFailed = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDimensionMismatch, ErrCodeStateCorrupt, ErrCodeProviderUnavailable:
		return SeverityFatal
	case ErrCodeParseFailed:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTransient, ErrCodeBackendUnavailable, ErrCodeLockUnavailable:
		return true
	default:
		return false
	}
}
