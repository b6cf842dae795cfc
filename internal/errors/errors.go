package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response. Every error that
// crosses the HTTP boundary is one of these: callers branch on ErrorCode,
// never on message text. Message keeps the legacy wording that existing
// userscript integrations still display to end users.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// Error codes form a closed enum. Adding a code here is an API change.
const (
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeInvalidRequest            = "INVALID_REQUEST"
	CodeValidationFailed          = "VALIDATION_FAILED"
	CodeSubscriptionNotFound      = "SUBSCRIPTION_NOT_FOUND"
	CodeSubscriptionExpired       = "SUBSCRIPTION_EXPIRED"
	CodeSubscriptionInactive      = "SUBSCRIPTION_INACTIVE"
	CodeDeviceLimitReached        = "DEVICE_LIMIT_REACHED"
	CodeDeviceNotRegistered       = "DEVICE_NOT_REGISTERED"
	CodeSubscriptionActiveElsewhere = "SUBSCRIPTION_ACTIVE_ELSEWHERE"
	CodeSessionInvalid            = "SESSION_INVALID"
	CodeNotFound                  = "NOT_FOUND"
	CodeInternal                  = "INTERNAL_ERROR"
)

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Predefined errors for the verification protocol. The message strings for
// device-limit, not-registered and active-elsewhere are a stable contract:
// deployed userscripts substring-match them for localized display.
var (
	ErrUnauthorized = New(http.StatusUnauthorized, CodeUnauthorized, "Invalid API key")

	ErrAPIKeyRequired = New(http.StatusUnauthorized, CodeUnauthorized, "API key required")

	ErrSubscriptionNotFound = New(http.StatusNotFound, CodeSubscriptionNotFound, "Subscription not found")

	ErrSubscriptionExpired = New(http.StatusForbidden, CodeSubscriptionExpired, "Subscription expired")

	ErrDeviceNotRegistered = New(http.StatusForbidden, CodeDeviceNotRegistered, "Device not registered or inactive")

	ErrSubscriptionActiveElsewhere = New(http.StatusForbidden, CodeSubscriptionActiveElsewhere,
		"Subscription is active on another device. Please log out from the other device first.")

	// SESSION_INVALID is deliberately generic: it never reveals whether the
	// token, the fingerprint or the expiry was the failing part.
	ErrSessionInvalid = New(http.StatusUnauthorized, CodeSessionInvalid, "Invalid or expired session")

	ErrNoActiveSubscription = New(http.StatusForbidden, CodeSubscriptionInactive, "No active subscription found")

	ErrInternalServer = New(http.StatusInternalServerError, CodeInternal, "Internal server error")
)

// SubscriptionInactive reports a non-active, non-expired subscription state.
// Unlike session errors this is intentionally informative: the message names
// the actual status (suspended, cancelled, ...).
func SubscriptionInactive(status string) *APIError {
	return New(http.StatusForbidden, CodeSubscriptionInactive, fmt.Sprintf("Subscription %s", status))
}

// DeviceLimitReached reports that the tenant's effective device ceiling is
// already consumed by registered active devices.
func DeviceLimitReached(maxDevices int) *APIError {
	return &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeDeviceLimitReached,
		Message:    fmt.Sprintf("Device limit reached. Maximum %d device(s) allowed.", maxDevices),
		Details:    map[string]int{"max_devices": maxDevices},
	}
}

// InvalidRequest creates a bad request error with a caller-facing message
func InvalidRequest(message string) *APIError {
	return New(http.StatusBadRequest, CodeInvalidRequest, message)
}

// InvalidRequestWithError wraps a binding failure
func InvalidRequestWithError(err error) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  CodeInvalidRequest,
		Message:    "Invalid request format",
		Details:    err.Error(),
	}
}

// Validation creates a validation error with field details
func Validation(field, message string) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  CodeValidationFailed,
		Message:    "Request validation failed",
		Details:    ValidationError{Field: field, Message: message},
	}
}

// NotFound creates a not found error for an admin resource
func NotFound(resource string) *APIError {
	return New(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal shapes an unexpected failure for the HTTP boundary. The cause is
// logged server-side, never serialized to the caller.
func Internal(err error) *APIError {
	return &APIError{
		StatusCode: http.StatusInternalServerError,
		ErrorCode:  CodeInternal,
		Message:    "Internal server error",
	}
}

// From extracts an *APIError from err, or wraps it as an internal error.
func From(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == code
}
