// Package errors provides structured error handling for docrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and storage errors
//   - 3XX: Upstream (LLM / embedding) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index, file, and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryUpstream indicates LLM and embedding service errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
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
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// Index and storage errors (200-299)
	ErrCodeIndexLoad     = "ERR_201_INDEX_LOAD"
	ErrCodeIndexCorrupt  = "ERR_202_INDEX_CORRUPT"
	ErrCodeDiskFull      = "ERR_203_DISK_FULL"
	ErrCodeFileNotFound  = "ERR_204_FILE_NOT_FOUND"
	ErrCodeIngestion     = "ERR_205_INGESTION_FAILED"
	ErrCodeStoreWrite    = "ERR_206_STORE_WRITE"

	// Upstream errors (300-399)
	ErrCodeLLMUpstream    = "ERR_301_LLM_UPSTREAM"
	ErrCodeLLMThrottled   = "ERR_302_LLM_THROTTLED"
	ErrCodeEmbedding      = "ERR_303_EMBEDDING_FAILED"
	ErrCodeNetworkTimeout = "ERR_304_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty        = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_403_QUERY_TOO_LONG"
	ErrCodeInvalidNamespace  = "ERR_404_INVALID_NAMESPACE"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeDeadline         = "ERR_502_DEADLINE_EXCEEDED"
	ErrCodeNamespaceUnknown = "ERR_503_NAMESPACE_UNKNOWN"
	ErrCodeCacheFailed      = "ERR_504_CACHE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_INDEX_LOAD")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Retryable upstream errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// ERR_301 and ERR_303 are produced after the gateway has exhausted its own
// retries, so they are terminal from the caller's perspective.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeLLMThrottled, ErrCodeNetworkTimeout:
		return true
	default:
		return false
	}
}
