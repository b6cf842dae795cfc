package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "subgate/internal/errors"
	"subgate/internal/middleware"
	"subgate/internal/services"
	"subgate/internal/storage"
)

// MockVerificationService implements services.VerificationService for
// handler tests.
type MockVerificationService struct {
	mock.Mock
}

func (m *MockVerificationService) Verify(ctx context.Context, tenant *storage.Client, code string, meta services.CallMeta) (*services.VerifyResponse, error) {
	args := m.Called(ctx, tenant, code, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.VerifyResponse), args.Error(1)
}

func (m *MockVerificationService) VerifyDevice(ctx context.Context, tenant *storage.Client, req services.VerifyDeviceRequest, meta services.CallMeta) (*services.VerifyDeviceResponse, error) {
	args := m.Called(ctx, tenant, req, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.VerifyDeviceResponse), args.Error(1)
}

func (m *MockVerificationService) LogoutDevice(ctx context.Context, tenant *storage.Client, token, fp string, meta services.CallMeta) error {
	args := m.Called(ctx, tenant, token, fp, meta)
	return args.Error(0)
}

func (m *MockVerificationService) Status(ctx context.Context, tenant *storage.Client, meta services.CallMeta) (*services.StatusResponse, error) {
	args := m.Called(ctx, tenant, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

type stubTenantResolver struct {
	tenant *storage.Client
}

func (s *stubTenantResolver) FindByAPIKey(_ context.Context, apiKey string) (*storage.Client, error) {
	if s.tenant != nil && apiKey == s.tenant.APIKey {
		return s.tenant, nil
	}
	return nil, storage.ErrNotFound
}

func newSubscriptionTestServer(t *testing.T, svc services.VerificationService) (http.Handler, *storage.Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenant := &storage.Client{ID: 7, Name: "acme", APIKey: "sk_test", IsActive: true}
	handler := NewSubscriptionHandler(svc, logger)
	return middleware.TenantAuth(logger, &stubTenantResolver{tenant: tenant})(handler.Routes()), tenant
}

func doJSON(t *testing.T, handler http.Handler, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestVerifyEndpoint(t *testing.T) {
	svc := new(MockVerificationService)
	handler, tenant := newSubscriptionTestServer(t, svc)

	svc.On("Verify", mock.Anything, tenant, "SUB_AABBCC_DDEEFF", mock.Anything).
		Return(&services.VerifyResponse{
			Valid: true,
			Subscription: &services.SubscriptionSnapshot{
				Code:    "SUB_AABBCC_DDEEFF",
				Status:  "active",
				Plan:    "Pro",
				EndDate: time.Now().Add(24 * time.Hour),
			},
		}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/verify", "sk_test",
		map[string]string{"subscription_code": "SUB_AABBCC_DDEEFF"})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["valid"])
	svc.AssertExpectations(t)
}

func TestVerifyEndpointMissingAPIKey(t *testing.T) {
	svc := new(MockVerificationService)
	handler, _ := newSubscriptionTestServer(t, svc)

	rec := doJSON(t, handler, http.MethodPost, "/verify", "",
		map[string]string{"subscription_code": "SUB_AABBCC_DDEEFF"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Verify")
}

func TestVerifyEndpointMissingCode(t *testing.T) {
	svc := new(MockVerificationService)
	handler, _ := newSubscriptionTestServer(t, svc)

	rec := doJSON(t, handler, http.MethodPost, "/verify", "sk_test", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "INVALID_REQUEST", body["error_code"])
	svc.AssertNotCalled(t, "Verify")
}

func TestVerifyEndpointSubscriptionExpired(t *testing.T) {
	svc := new(MockVerificationService)
	handler, _ := newSubscriptionTestServer(t, svc)

	svc.On("Verify", mock.Anything, mock.Anything, "SUB_AABBCC_DDEEFF", mock.Anything).
		Return(nil, apierrors.ErrSubscriptionExpired)

	rec := doJSON(t, handler, http.MethodPost, "/verify", "sk_test",
		map[string]string{"subscription_code": "SUB_AABBCC_DDEEFF"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "SUBSCRIPTION_EXPIRED", body["error_code"])
	assert.Contains(t, body["error"], "Subscription expired")
}

func TestVerifyDeviceEndpoint(t *testing.T) {
	svc := new(MockVerificationService)
	handler, tenant := newSubscriptionTestServer(t, svc)

	var got services.VerifyDeviceRequest
	svc.On("VerifyDevice", mock.Anything, tenant, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			got = args.Get(2).(services.VerifyDeviceRequest)
		}).
		Return(&services.VerifyDeviceResponse{
			Valid:        true,
			SessionToken: "tok-123",
			Subscription: &services.SubscriptionSnapshot{Code: "SUB_AABBCC_DDEEFF", MaxDevices: 2},
		}, nil)

	rec := doJSON(t, handler, http.MethodPost, "/verify-device", "sk_test", map[string]interface{}{
		"subscription_code": "SUB_AABBCC_DDEEFF",
		"device_data": map[string]interface{}{
			"screen":              "1920x1080x24",
			"timezone":            "Europe/Berlin",
			"platform":            "MacIntel",
			"language":            "en-US",
			"hardwareConcurrency": 8,
			"deviceMemory":        8,
			"userAgent":           "Mozilla/5.0",
			"deviceName":          "Work laptop",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tok-123", body["session_token"])

	// The handler parsed the loose payload into the structured device form.
	assert.Equal(t, "1920x1080x24", got.Device.Screen)
	assert.Equal(t, "8", string(got.Device.HardwareConcurrency))
	assert.Equal(t, "Work laptop", got.Device.DeviceName)
	assert.NotEmpty(t, got.RawDeviceData)
}

func TestVerifyDeviceEndpointLimitReached(t *testing.T) {
	svc := new(MockVerificationService)
	handler, _ := newSubscriptionTestServer(t, svc)

	svc.On("VerifyDevice", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apierrors.DeviceLimitReached(1))

	rec := doJSON(t, handler, http.MethodPost, "/verify-device", "sk_test", map[string]interface{}{
		"subscription_code": "SUB_AABBCC_DDEEFF",
		"device_data":       map[string]string{"screen": "800x600x24"},
	})

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DEVICE_LIMIT_REACHED", body["error_code"])
	assert.Contains(t, body["error"], "Device limit reached")
}

func TestLogoutDeviceEndpoint(t *testing.T) {
	svc := new(MockVerificationService)
	handler, tenant := newSubscriptionTestServer(t, svc)

	svc.On("LogoutDevice", mock.Anything, tenant, "tok-123", "fp-abc", mock.Anything).Return(nil)

	rec := doJSON(t, handler, http.MethodPost, "/logout-device", "sk_test", map[string]string{
		"session_token":      "tok-123",
		"device_fingerprint": "fp-abc",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["success"])
	svc.AssertExpectations(t)
}

func TestLogoutDeviceEndpointMissingFields(t *testing.T) {
	svc := new(MockVerificationService)
	handler, _ := newSubscriptionTestServer(t, svc)

	rec := doJSON(t, handler, http.MethodPost, "/logout-device", "sk_test",
		map[string]string{"session_token": "tok-123"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "LogoutDevice")
}

func TestStatusEndpoint(t *testing.T) {
	svc := new(MockVerificationService)
	handler, tenant := newSubscriptionTestServer(t, svc)

	svc.On("Status", mock.Anything, tenant, mock.Anything).Return(&services.StatusResponse{
		Subscriptions: []services.SubscriptionStatus{
			{SubscriptionCode: "SUB_AABBCC_DDEEFF", Status: "active", Plan: "Pro"},
			{SubscriptionCode: "SUB_001122_334455", Status: "active", Plan: "Basic", IsExpired: true},
		},
	}, nil)

	rec := doJSON(t, handler, http.MethodGet, "/status", "sk_test", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body services.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Subscriptions, 2)
	assert.True(t, body.Subscriptions[1].IsExpired)
}
