package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate/internal/storage"
)

type stubResolver struct {
	tenants map[string]*storage.Client
}

func (s *stubResolver) FindByAPIKey(_ context.Context, apiKey string) (*storage.Client, error) {
	if tenant, ok := s.tenants[apiKey]; ok {
		return tenant, nil
	}
	return nil, storage.ErrNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTenantAuth(t *testing.T) {
	resolver := &stubResolver{tenants: map[string]*storage.Client{
		"sk_valid": {ID: 7, Name: "acme", IsActive: true},
	}}

	var gotTenant *storage.Client
	handler := TenantAuth(discardLogger(), resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		apiKey     string
		wantStatus int
		wantCode   string
	}{
		{name: "missing key", apiKey: "", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "unknown key", apiKey: "sk_bogus", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "valid key", apiKey: "sk_valid", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTenant = nil
			req := httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, gotTenant)
				assert.EqualValues(t, 7, gotTenant.ID)
				return
			}

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["valid"])
			assert.Equal(t, tt.wantCode, body["error_code"])
			assert.NotEmpty(t, body["error"])
			assert.Nil(t, gotTenant)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("correct token passes", func(t *testing.T) {
		handler := AdminAuth(discardLogger(), "topsecret")(next)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/clients", nil)
		req.Header.Set("X-Admin-Token", "topsecret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		handler := AdminAuth(discardLogger(), "topsecret")(next)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/clients", nil)
		req.Header.Set("X-Admin-Token", "guess")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unset token rejects everything", func(t *testing.T) {
		handler := AdminAuth(discardLogger(), "")(next)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/clients", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
