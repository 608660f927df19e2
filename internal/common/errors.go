package common

import (
	"errors"
	"fmt"
)

// Error codes matching the pipeline's failure taxonomy. Codes are stable
// strings: they appear in logs, API payloads, and store records.
const (
	CodeInputUnreadable     = "INPUT_UNREADABLE"
	CodeExtractionRetryable = "EXTRACTION_RETRYABLE"
	CodeExtractionFatal     = "EXTRACTION_FATAL"
	CodeValidationCoerced   = "VALIDATION_COERCED"
	CodeStoreNotFound       = "STORE_NOT_FOUND"
	CodeStoreInvalidChange  = "STORE_INVALID_TRANSITION"
	CodeQueryUnsupported    = "QUERY_UNSUPPORTED"
	CodeStoreCorrupt        = "STORE_CORRUPT"
)

// AppError carries a taxonomy code alongside the underlying cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// ErrorCode extracts the taxonomy code from err, or "" if it carries none.
func ErrorCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Store sentinels. The store returns these wrapped; callers test with
// errors.Is.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreCorrupt      = errors.New("task store corrupt") // fatal to the run
)

// Retryable marks errors the extraction retry loop may attempt again
// (rate limits, timeouts). Anything else is treated as fatal for the
// section after repair attempts are exhausted.
func Retryable(err error) bool {
	return ErrorCode(err) == CodeExtractionRetryable
}
