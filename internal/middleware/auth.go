package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "subgate/internal/errors"
	"subgate/internal/storage"
)

// tenantKey carries the authenticated tenant through the request context.
const tenantKey contextKey = "tenant"

// TenantResolver looks up a tenant by its API key. Inactive tenants are
// treated as unknown.
type TenantResolver interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*storage.Client, error)
}

// TenantAuth authenticates the verification API by the X-API-Key header.
// The API key is the sole tenant-authentication anchor: a missing, unknown
// or inactive key terminates the request with 401.
func TenantAuth(logger *slog.Logger, resolver TenantResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				writeAuthError(w, apierrors.ErrAPIKeyRequired)
				return
			}

			tenant, err := resolver.FindByAPIKey(ctx, apiKey)
			if errors.Is(err, storage.ErrNotFound) {
				logger.WarnContext(ctx, "rejected unknown api key",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				writeAuthError(w, apierrors.ErrUnauthorized)
				return
			}
			if err != nil {
				logger.ErrorContext(ctx, "tenant lookup failed", "error", err.Error())
				writeAuthError(w, apierrors.ErrInternalServer)
				return
			}

			ctx = context.WithValue(ctx, tenantKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromContext returns the tenant authenticated by TenantAuth, or nil.
func TenantFromContext(ctx context.Context) *storage.Client {
	tenant, _ := ctx.Value(tenantKey).(*storage.Client)
	return tenant
}

// AdminAuth guards the management API with a static token from config,
// compared in constant time against the X-Admin-Token header.
func AdminAuth(logger *slog.Logger, adminToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				logger.WarnContext(r.Context(), "rejected admin request",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				writeAuthError(w, apierrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError renders an auth failure in the verification API's error
// shape: existing callers read the top-level "error" field.
func writeAuthError(w http.ResponseWriter, apiErr *apierrors.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"valid":      false,
		"error":      apiErr.Message,
		"error_code": apiErr.ErrorCode,
	})
}
