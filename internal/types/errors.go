package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories use these constants
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidSlug  ErrorCode = "validation_invalid_slug"
	ErrCodeValidationBody         ErrorCode = "validation_invalid_body"

	// Auth / ownership (401/403)
	ErrCodeAuthUserMissing ErrorCode = "auth_user_missing"
	ErrCodeOwnerMismatch   ErrorCode = "permission_owner_mismatch"

	// Not Found (404)
	ErrCodeNotFoundSubscriber ErrorCode = "not_found_subscriber"
	ErrCodeNotFoundBroadcast  ErrorCode = "not_found_broadcast"
	ErrCodeNotFoundSequence   ErrorCode = "not_found_sequence"
	ErrCodeNotFoundJob        ErrorCode = "not_found_email_job"
	ErrCodeNotFoundPage       ErrorCode = "not_found_landing_page"
	ErrCodeNotFoundProfile    ErrorCode = "not_found_profile"

	// Conflict (409)
	ErrCodeConflictEmail ErrorCode = "conflict_email_exists"
	ErrCodeConflictSlug  ErrorCode = "conflict_slug_exists"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamMailProvider  ErrorCode = "upstream_mail_provider_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamStripe        ErrorCode = "upstream_stripe_unavailable"
	ErrCodeWebhookSignature      ErrorCode = "webhook_signature_invalid"
	ErrCodeMailSandboxRestricted ErrorCode = "mail_sandbox_restricted"
)

// AppError is the application-level error carrying a stable code, an
// operator-facing message, and the wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// NewAppError constructs an AppError wrapping an optional cause.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured detail fields and returns the error for
// chaining.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// HTTPStatus maps the error code to an HTTP response status. Codes are
// grouped by their string prefix; specific overrides come first.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeWebhookSignature:
		return http.StatusBadRequest
	}

	code := string(e.Code)
	switch {
	case strings.HasPrefix(code, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "permission_"):
		return http.StatusForbidden
	case strings.HasPrefix(code, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(code, "upstream_"), strings.HasPrefix(code, "mail_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
