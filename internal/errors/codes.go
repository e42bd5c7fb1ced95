// Package errors provides structured error handling for the context engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Corpus and document errors
//   - 3XX: Index errors
//   - 4XX: Query and budget errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryCorpus indicates document read or parse errors.
	CategoryCorpus Category = "CORPUS"
	// CategoryIndex indicates lexical or vector index errors.
	CategoryIndex Category = "INDEX"
	// CategoryQuery indicates query input and budget errors.
	CategoryQuery Category = "QUERY"
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
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Corpus errors (200-299)
	ErrCodeDocumentUnreadable = "ERR_201_DOCUMENT_UNREADABLE"
	ErrCodeDocumentEmpty      = "ERR_202_DOCUMENT_EMPTY"
	ErrCodeDocumentMalformed  = "ERR_203_DOCUMENT_MALFORMED"

	// Index errors (300-399)
	ErrCodeIndexCorrupt       = "ERR_301_INDEX_CORRUPT"
	ErrCodeIndexVersion       = "ERR_302_INDEX_VERSION"
	ErrCodeIndexLocked        = "ERR_303_INDEX_LOCKED"
	ErrCodeDimensionMismatch  = "ERR_304_DIMENSION_MISMATCH"
	ErrCodeEmbeddingMissing   = "ERR_305_EMBEDDING_MISSING"

	// Query errors (400-499)
	ErrCodeInvalidQuery  = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty    = "ERR_402_QUERY_EMPTY"
	ErrCodeBudgetInvalid = "ERR_403_BUDGET_INVALID"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeSearchFailed   = "ERR_502_SEARCH_FAILED"
	ErrCodePackingFailed  = "ERR_503_PACKING_FAILED"
	ErrCodeCacheFailed    = "ERR_504_CACHE_FAILED"
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
		return CategoryCorpus
	case '3':
		return CategoryIndex
	case '4':
		return CategoryQuery
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Corpus errors and missing embeddings degrade gracefully; index corruption
// and version mismatches force a rebuild.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeIndexVersion:
		return SeverityFatal
	case ErrCodeDocumentUnreadable, ErrCodeDocumentEmpty, ErrCodeDocumentMalformed:
		return SeverityWarning
	case ErrCodeEmbeddingMissing:
		return SeverityInfo
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether an operation failing with this code may
// succeed on retry. Lock contention is the only retryable condition; the
// engine performs no network I/O.
func isRetryableCode(code string) bool {
	return code == ErrCodeIndexLocked
}
