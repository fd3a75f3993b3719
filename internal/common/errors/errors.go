// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidFeedbackEvent ErrorCode = "INVALID_FEEDBACK_EVENT"
	ErrCodeInvalidCachePattern  ErrorCode = "INVALID_CACHE_PATTERN"

	ErrCodeListingQueryFailed    ErrorCode = "LISTING_QUERY_FAILED"
	ErrCodeProfileLoadFailed     ErrorCode = "PROFILE_LOAD_FAILED"
	ErrCodeFeedbackPersistFailed ErrorCode = "FEEDBACK_PERSIST_FAILED"
	ErrCodeSeenStoreFailed       ErrorCode = "SEEN_STORE_FAILED"
	ErrCodeBenchmarkQueryFailed  ErrorCode = "BENCHMARK_QUERY_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeBrokerUnavailable        ErrorCode = "BROKER_UNAVAILABLE"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func detailsOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid job input", details, false, nil)
}

func NewInvalidFeedbackEventError(details string) *StandardError {
	return newError(ErrCodeInvalidFeedbackEvent, "Invalid feedback event", details, false, nil)
}

func NewInvalidCachePatternError(pattern string, err error) *StandardError {
	return newError(ErrCodeInvalidCachePattern, "Invalid cache invalidation pattern",
		fmt.Sprintf("%s: %s", pattern, detailsOf(err)), false, err)
}

func NewListingQueryFailedError(err error) *StandardError {
	return newError(ErrCodeListingQueryFailed, "Failed to query listings", detailsOf(err), true, err)
}

func NewProfileLoadFailedError(userID string, err error) *StandardError {
	return newError(ErrCodeProfileLoadFailed, "Failed to load user profile", detailsOf(err), true, err).
		WithMetadata("userId", userID)
}

func NewFeedbackPersistFailedError(err error) *StandardError {
	return newError(ErrCodeFeedbackPersistFailed, "Failed to persist feedback event", detailsOf(err), true, err)
}

func NewSeenStoreFailedError(err error) *StandardError {
	return newError(ErrCodeSeenStoreFailed, "Seen-set store unavailable", detailsOf(err), true, err)
}

func NewBenchmarkQueryFailedError(category string, err error) *StandardError {
	return newError(ErrCodeBenchmarkQueryFailed, "Failed to compute market benchmark", detailsOf(err), true, err).
		WithMetadata("category", category)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection failed", detailsOf(err), true, err)
}

func NewQueryTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeQueryTimeout, "Query timed out", queryType, true, nil)
}

func NewBrokerUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeBrokerUnavailable, "Workflow broker unavailable", detailsOf(err), true, err).
		WithMetadata("operation", operation)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", detailsOf(err), false, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidInput:             "INVALID_INPUT",
	ErrCodeInvalidFeedbackEvent:     "INVALID_FEEDBACK_EVENT",
	ErrCodeInvalidCachePattern:      "INVALID_CACHE_PATTERN",
	ErrCodeListingQueryFailed:       "LISTING_QUERY_FAILED",
	ErrCodeProfileLoadFailed:        "PROFILE_LOAD_FAILED",
	ErrCodeFeedbackPersistFailed:    "FEEDBACK_PERSIST_FAILED",
	ErrCodeSeenStoreFailed:          "SEEN_STORE_FAILED",
	ErrCodeBenchmarkQueryFailed:     "BENCHMARK_QUERY_FAILED",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeBrokerUnavailable:        "BROKER_UNAVAILABLE",
	ErrCodeInternal:                 "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeListingQueryFailed,
		ErrCodeFeedbackPersistFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeBrokerUnavailable,
		ErrCodeBenchmarkQueryFailed:
		return 3

	case ErrCodeSeenStoreFailed,
		ErrCodeProfileLoadFailed,
		ErrCodeQueryTimeout:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "PROFILE") || strings.Contains(codeStr, "SEEN"):
		return "CACHE"
	case strings.Contains(codeStr, "FEEDBACK"):
		return "PERSISTENCE"
	default:
		return "OTHER"
	}
}
