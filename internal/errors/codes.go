// Package errors provides structured error handling for raggate.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Authentication and session errors
//   - 2XX: Input validation errors
//   - 3XX: Storage and index errors
//   - 4XX: Downstream provider errors
//   - 5XX: Internal runtime errors
package errors

// Kind is the coarse error classification exposed to transports.
// Every GateError carries exactly one Kind; HTTP status codes and
// WebSocket close codes are derived from it.
type Kind string

const (
	// KindUnauthenticated indicates a missing, invalid, or expired session.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	// KindOrganizationRequired indicates an authenticated user with no organization.
	KindOrganizationRequired Kind = "ORGANIZATION_REQUIRED"
	// KindOrganizationForbidden indicates a cross-organization access attempt.
	KindOrganizationForbidden Kind = "ORGANIZATION_FORBIDDEN"
	// KindNotFound indicates a document, chunk, or file that does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindPermissionDenied indicates the user lacks permission for the operation.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindInvalidInput indicates malformed or out-of-range request parameters.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindBusy indicates the ingest pipeline is at capacity.
	KindBusy Kind = "BUSY"
	// KindEmbeddingUnavailable indicates the embedding provider failed after retries.
	KindEmbeddingUnavailable Kind = "EMBEDDING_UNAVAILABLE"
	// KindIndexUnavailable indicates the vector or lexical index cannot be reached.
	KindIndexUnavailable Kind = "INDEX_UNAVAILABLE"
	// KindLLMUnavailable indicates every configured LLM provider failed.
	KindLLMUnavailable Kind = "LLM_UNAVAILABLE"
	// KindIndexWriteFailed indicates a partial ingest write that was rolled back.
	KindIndexWriteFailed Kind = "INDEX_WRITE_FAILED"
	// KindCancelled indicates the caller abandoned the operation.
	KindCancelled Kind = "CANCELLED"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "INTERNAL"
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
	// Authentication and session errors (100-199)
	ErrCodeUnauthenticated  = "ERR_101_UNAUTHENTICATED"
	ErrCodeSessionExpired   = "ERR_102_SESSION_EXPIRED"
	ErrCodeOrgRequired      = "ERR_103_ORG_REQUIRED"
	ErrCodeOrgForbidden     = "ERR_104_ORG_FORBIDDEN"
	ErrCodePermissionDenied = "ERR_105_PERMISSION_DENIED"

	// Input validation errors (200-299)
	ErrCodeInvalidInput      = "ERR_201_INVALID_INPUT"
	ErrCodeUnsupportedFormat = "ERR_202_UNSUPPORTED_FORMAT"
	ErrCodePayloadTooLarge   = "ERR_203_PAYLOAD_TOO_LARGE"

	// Storage and index errors (300-399)
	ErrCodeNotFound         = "ERR_301_NOT_FOUND"
	ErrCodeIndexWriteFailed = "ERR_302_INDEX_WRITE_FAILED"
	ErrCodeIndexUnavailable = "ERR_303_INDEX_UNAVAILABLE"
	ErrCodeStoreCorrupt     = "ERR_304_STORE_CORRUPT"

	// Downstream provider errors (400-499)
	ErrCodeEmbeddingUnavailable = "ERR_401_EMBEDDING_UNAVAILABLE"
	ErrCodeLLMUnavailable       = "ERR_402_LLM_UNAVAILABLE"
	ErrCodeLLMRateLimited       = "ERR_403_LLM_RATE_LIMITED"

	// Internal runtime errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeCancelled     = "ERR_502_CANCELLED"
	ErrCodeBusy          = "ERR_503_BUSY"
	ErrCodeDataDirLocked = "ERR_504_DATA_DIR_LOCKED"
)

// kindFromCode maps an error code to its transport-facing kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeUnauthenticated, ErrCodeSessionExpired:
		return KindUnauthenticated
	case ErrCodeOrgRequired:
		return KindOrganizationRequired
	case ErrCodeOrgForbidden:
		return KindOrganizationForbidden
	case ErrCodePermissionDenied:
		return KindPermissionDenied
	case ErrCodeInvalidInput, ErrCodeUnsupportedFormat, ErrCodePayloadTooLarge:
		return KindInvalidInput
	case ErrCodeNotFound:
		return KindNotFound
	case ErrCodeIndexWriteFailed:
		return KindIndexWriteFailed
	case ErrCodeIndexUnavailable, ErrCodeStoreCorrupt:
		return KindIndexUnavailable
	case ErrCodeEmbeddingUnavailable:
		return KindEmbeddingUnavailable
	case ErrCodeLLMUnavailable, ErrCodeLLMRateLimited:
		return KindLLMUnavailable
	case ErrCodeCancelled:
		return KindCancelled
	case ErrCodeBusy:
		return KindBusy
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeDataDirLocked:
		return SeverityFatal
	}

	// Retryable downstream errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingUnavailable, ErrCodeLLMUnavailable, ErrCodeLLMRateLimited,
		ErrCodeIndexUnavailable, ErrCodeBusy:
		return true
	default:
		return false
	}
}
