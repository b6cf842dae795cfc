package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"api key required", ErrAPIKeyRequired, http.StatusUnauthorized, CodeUnauthorized},
		{"subscription not found", ErrSubscriptionNotFound, http.StatusNotFound, CodeSubscriptionNotFound},
		{"subscription expired", ErrSubscriptionExpired, http.StatusForbidden, CodeSubscriptionExpired},
		{"device not registered", ErrDeviceNotRegistered, http.StatusForbidden, CodeDeviceNotRegistered},
		{"active elsewhere", ErrSubscriptionActiveElsewhere, http.StatusForbidden, CodeSubscriptionActiveElsewhere},
		{"session invalid", ErrSessionInvalid, http.StatusUnauthorized, CodeSessionInvalid},
		{"internal", ErrInternalServer, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.wantCode, tt.err.ErrorCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestDeviceLimitReached(t *testing.T) {
	err := DeviceLimitReached(3)

	assert.Equal(t, http.StatusForbidden, err.StatusCode)
	assert.Equal(t, CodeDeviceLimitReached, err.ErrorCode)
	// Legacy substring contract consumed by deployed userscripts.
	assert.Contains(t, err.Message, "Device limit reached")
	assert.Contains(t, err.Message, "3 device(s)")
}

func TestSubscriptionInactive(t *testing.T) {
	err := SubscriptionInactive("suspended")

	assert.Equal(t, http.StatusForbidden, err.StatusCode)
	assert.Equal(t, CodeSubscriptionInactive, err.ErrorCode)
	assert.Equal(t, "Subscription suspended", err.Message)
}

func TestFrom(t *testing.T) {
	t.Run("passes through APIError", func(t *testing.T) {
		orig := ErrSubscriptionExpired
		assert.Same(t, orig, From(orig))
	})

	t.Run("passes through wrapped APIError", func(t *testing.T) {
		wrapped := fmt.Errorf("verify device: %w", ErrDeviceNotRegistered)
		assert.Same(t, ErrDeviceNotRegistered, From(wrapped))
	})

	t.Run("wraps unknown error as internal", func(t *testing.T) {
		err := From(fmt.Errorf("connection refused"))
		assert.Equal(t, CodeInternal, err.ErrorCode)
		assert.Equal(t, "Internal server error", err.Message)
	})
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(ErrSessionInvalid, CodeSessionInvalid))
	assert.True(t, IsCode(fmt.Errorf("wrap: %w", ErrSessionInvalid), CodeSessionInvalid))
	assert.False(t, IsCode(ErrSessionInvalid, CodeUnauthorized))
	assert.False(t, IsCode(fmt.Errorf("plain"), CodeInternal))
}

func TestValidation(t *testing.T) {
	err := Validation("subscription_code", "required")

	assert.Equal(t, CodeValidationFailed, err.ErrorCode)
	detail, ok := err.Details.(ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "subscription_code", detail.Field)
}
