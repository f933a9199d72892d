package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationNilAlarm      ErrorCode = "validation_nil_alarm"
	ErrCodeValidationNoTriggers    ErrorCode = "validation_no_triggers"
	ErrCodeValidationMalformedBody ErrorCode = "validation_malformed_body"
	ErrCodeValidationBadRequest    ErrorCode = "validation_bad_request"

	// Configuration (500)
	ErrCodeConfigMissingBucket ErrorCode = "config_missing_bucket"
	ErrCodeConfigMissingQueue  ErrorCode = "config_missing_queue"
	ErrCodeConfigMissingDLQ    ErrorCode = "config_missing_dlq"

	// Credentials (500)
	ErrCodeCredentialsUnavailable ErrorCode = "credentials_unavailable"
	ErrCodeCredentialsInvalid     ErrorCode = "credentials_invalid"

	// Method/route (405/404)
	ErrCodeRouteUnsupported ErrorCode = "route_unsupported_method"
	ErrCodeNotFoundVideo    ErrorCode = "not_found_video"
	ErrCodeNotFoundEvent    ErrorCode = "not_found_event"

	// Upstream collaborators (502)
	ErrCodeStorageWrite      ErrorCode = "storage_write_failed"
	ErrCodeStorageRead       ErrorCode = "storage_read_failed"
	ErrCodeVideoFetch        ErrorCode = "video_fetch_failed"
	ErrCodeVideoUpload       ErrorCode = "video_upload_failed"
	ErrCodeQueueSend         ErrorCode = "queue_send_failed"
	ErrCodeNotificationSend  ErrorCode = "notification_send_failed"
	ErrCodeUpstreamProtect   ErrorCode = "upstream_protect_unavailable"
	ErrCodeUpstreamRateLimit ErrorCode = "upstream_rate_limited"

	// Internal (500)
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the router to translate AppErrors into responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeRouteUnsupported):
		return http.StatusMethodNotAllowed // 405
	case s == string(ErrCodeUpstreamRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "storage_"),
		strings.HasPrefix(s, "video_"),
		strings.HasPrefix(s, "queue_"),
		strings.HasPrefix(s, "notification_"),
		strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "config_"),
		strings.HasPrefix(s, "credentials_"),
		strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the pipeline.
// All domain errors should be expressed as AppError to enable consistent
// formatting, status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
