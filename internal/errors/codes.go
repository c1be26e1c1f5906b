package errors

import "strings"

// Category classifies errors by subsystem.
type Category string

const (
	CategoryConfig   Category = "Config"
	CategoryStore    Category = "Store"
	CategoryProvider Category = "Provider"
	CategoryVector   Category = "Vector"
	CategoryLexical  Category = "Lexical"
	CategoryInput    Category = "Input"
	CategoryInternal Category = "Internal"
)

// Severity indicates how an error should be handled by callers.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Error codes. The numeric band encodes the category:
// 1xx config, 2xx store, 3xx embedding provider, 4xx vector index,
// 5xx lexical index, 6xx input, 9xx internal.
const (
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeRecordNotFound   = "ERR_202_RECORD_NOT_FOUND"

	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout     = "ERR_302_PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimited = "ERR_303_PROVIDER_RATE_LIMITED"

	ErrCodeVectorUnavailable = "ERR_401_VECTOR_UNAVAILABLE"
	ErrCodeVectorDimension   = "ERR_402_VECTOR_DIMENSION"

	ErrCodeLexicalUnavailable = "ERR_501_LEXICAL_UNAVAILABLE"

	ErrCodeEmptyText    = "ERR_601_EMPTY_TEXT"
	ErrCodeInvalidInput = "ERR_602_INVALID_INPUT"

	ErrCodeInternal = "ERR_901_INTERNAL"
)

// retryableCodes are errors caused by transient external conditions.
// Anything listed here is eligible for the durable retry queue.
var retryableCodes = map[string]bool{
	ErrCodeStoreUnavailable:    true,
	ErrCodeProviderUnavailable: true,
	ErrCodeProviderTimeout:     true,
	ErrCodeProviderRateLimited: true,
	ErrCodeVectorUnavailable:   true,
	ErrCodeLexicalUnavailable:  true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}

func categoryFromCode(code string) Category {
	switch {
	case strings.HasPrefix(code, "ERR_1"):
		return CategoryConfig
	case strings.HasPrefix(code, "ERR_2"):
		return CategoryStore
	case strings.HasPrefix(code, "ERR_3"):
		return CategoryProvider
	case strings.HasPrefix(code, "ERR_4"):
		return CategoryVector
	case strings.HasPrefix(code, "ERR_5"):
		return CategoryLexical
	case strings.HasPrefix(code, "ERR_6"):
		return CategoryInput
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeEmptyText, ErrCodeRecordNotFound:
		return SeverityWarning
	default:
		return SeverityError
	}
}
