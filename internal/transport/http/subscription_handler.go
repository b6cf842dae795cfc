// Package http contains the chi HTTP handlers: the public verification API
// consumed by userscripts, the admin management API and health endpoints.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "subgate/internal/errors"
	"subgate/internal/fingerprint"
	"subgate/internal/middleware"
	"subgate/internal/services"
)

var validate = validator.New()

// SubscriptionHandler serves the tenant-facing verification API. Every
// route expects a tenant resolved by the API-key middleware.
type SubscriptionHandler struct {
	service services.VerificationService
	logger  *slog.Logger
}

// NewSubscriptionHandler creates the verification API handler.
func NewSubscriptionHandler(service services.VerificationService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "subscription")),
	}
}

// Routes returns the router mounted at /api/subscription.
func (h *SubscriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	r.Post("/verify-device", h.VerifyDevice)
	r.Post("/logout-device", h.LogoutDevice)
	r.Get("/status", h.Status)
	return r
}

// VerifyRequest is the POST /verify payload.
type VerifyRequest struct {
	SubscriptionCode string `json:"subscription_code" validate:"required"`
}

// Bind implements render.Binder.
func (v *VerifyRequest) Bind(r *http.Request) error {
	return validate.Struct(v)
}

// VerifyDeviceRequest is the POST /verify-device payload. DeviceData is
// kept raw so the exact client-reported blob lands in the device record,
// and parsed into the structured form the fingerprint hashes.
type VerifyDeviceRequest struct {
	SubscriptionCode string          `json:"subscription_code" validate:"required"`
	DeviceData       json.RawMessage `json:"device_data"`
	SessionToken     string          `json:"session_token,omitempty"`

	device fingerprint.DeviceData
}

// Bind implements render.Binder. Missing or partial device data is
// tolerated: absent fields degrade fingerprint quality, not correctness.
func (v *VerifyDeviceRequest) Bind(r *http.Request) error {
	if err := validate.Struct(v); err != nil {
		return err
	}
	if len(v.DeviceData) > 0 {
		if err := json.Unmarshal(v.DeviceData, &v.device); err != nil {
			return errors.New("device_data must be a JSON object")
		}
	}
	return nil
}

// LogoutDeviceRequest is the POST /logout-device payload.
type LogoutDeviceRequest struct {
	SessionToken      string `json:"session_token" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required"`
}

// Bind implements render.Binder.
func (l *LogoutDeviceRequest) Bind(r *http.Request) error {
	return validate.Struct(l)
}

// errorResponse is the verification API's error shape. The top-level
// "error" string is what deployed userscripts read and display.
type errorResponse struct {
	Valid     bool        `json:"valid"`
	Error     string      `json:"error"`
	ErrorCode string      `json:"error_code"`
	Details   interface{} `json:"details,omitempty"`
}

// Verify handles POST /verify.
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		h.renderError(w, r, apierrors.ErrUnauthorized)
		return
	}

	req := &VerifyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.Verify(r.Context(), tenant, req.SubscriptionCode, h.callMeta(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// VerifyDevice handles POST /verify-device.
func (h *SubscriptionHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		h.renderError(w, r, apierrors.ErrUnauthorized)
		return
	}

	req := &VerifyDeviceRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.VerifyDevice(r.Context(), tenant, services.VerifyDeviceRequest{
		SubscriptionCode: req.SubscriptionCode,
		Device:           req.device,
		RawDeviceData:    req.DeviceData,
		SessionToken:     req.SessionToken,
	}, h.callMeta(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// LogoutDevice handles POST /logout-device.
func (h *SubscriptionHandler) LogoutDevice(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		h.renderError(w, r, apierrors.ErrUnauthorized)
		return
	}

	req := &LogoutDeviceRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.service.LogoutDevice(r.Context(), tenant, req.SessionToken, req.DeviceFingerprint, h.callMeta(r)); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

// Status handles GET /status.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		h.renderError(w, r, apierrors.ErrUnauthorized)
		return
	}

	resp, err := h.service.Status(r.Context(), tenant, h.callMeta(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *SubscriptionHandler) callMeta(r *http.Request) services.CallMeta {
	return services.CallMeta{
		Endpoint:  r.URL.Path,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func (h *SubscriptionHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.From(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, errorResponse{
		Valid:     false,
		Error:     apiErr.Message,
		ErrorCode: apiErr.ErrorCode,
		Details:   apiErr.Details,
	})
}
