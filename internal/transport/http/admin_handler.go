package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/datatypes"

	apierrors "subgate/internal/errors"
	"subgate/internal/services"
	"subgate/internal/storage"
)

// AdminHandler serves the management API behind the static admin token.
type AdminHandler struct {
	service services.AdminService
	logger  *slog.Logger
}

// NewAdminHandler creates the admin API handler.
func NewAdminHandler(service services.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the router mounted at /api/admin.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/plans", func(r chi.Router) {
		r.Get("/", h.ListPlans)
		r.Post("/", h.CreatePlan)
		r.Put("/{id}", h.UpdatePlan)
		r.Post("/{id}/toggle", h.TogglePlan)
	})

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", h.ListClients)
		r.Post("/", h.CreateClient)
		r.Post("/{id}/toggle", h.ToggleClient)
		r.Post("/{id}/regenerate-key", h.RegenerateAPIKey)
		r.Get("/{id}/devices", h.ListDevices)
		r.Post("/{id}/force-logout", h.ForceLogout)
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.CreateSubscription)
		r.Put("/{id}/status", h.UpdateSubscriptionStatus)
		r.Post("/{id}/renew", h.RenewSubscription)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Post("/{id}/toggle", h.ToggleDevice)
		r.Delete("/{id}", h.RemoveDevice)
	})

	return r
}

// CreatePlanRequest is the POST /plans payload.
type CreatePlanRequest struct {
	Name         string         `json:"name" validate:"required"`
	Description  string         `json:"description,omitempty"`
	Price        float64        `json:"price" validate:"gte=0"`
	DurationDays int            `json:"duration_days" validate:"required,gt=0"`
	Features     datatypes.JSON `json:"features,omitempty"`
	MaxDevices   *int           `json:"max_devices,omitempty" validate:"omitempty,gt=0"`
}

// Bind implements render.Binder.
func (p *CreatePlanRequest) Bind(r *http.Request) error {
	return validate.Struct(p)
}

// UpdatePlanRequest is the PUT /plans/{id} payload; every field optional.
type UpdatePlanRequest struct {
	Name         *string         `json:"name,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Price        *float64        `json:"price,omitempty" validate:"omitempty,gte=0"`
	DurationDays *int            `json:"duration_days,omitempty" validate:"omitempty,gt=0"`
	Features     *datatypes.JSON `json:"features,omitempty"`
	MaxDevices   *int            `json:"max_devices,omitempty" validate:"omitempty,gt=0"`
}

// Bind implements render.Binder.
func (p *UpdatePlanRequest) Bind(r *http.Request) error {
	return validate.Struct(p)
}

// CreateClientRequest is the POST /clients payload.
type CreateClientRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Bind implements render.Binder.
func (c *CreateClientRequest) Bind(r *http.Request) error {
	return validate.Struct(c)
}

// CreateSubscriptionRequest is the POST /subscriptions payload.
type CreateSubscriptionRequest struct {
	ClientID      uint     `json:"client_id" validate:"required"`
	PlanID        uint     `json:"plan_id" validate:"required"`
	MaxDevices    *int     `json:"max_devices,omitempty" validate:"omitempty,gt=0"`
	AutoRenew     bool     `json:"auto_renew,omitempty"`
	PaymentAmount *float64 `json:"payment_amount,omitempty" validate:"omitempty,gte=0"`
	Notes         string   `json:"notes,omitempty"`
}

// Bind implements render.Binder.
func (c *CreateSubscriptionRequest) Bind(r *http.Request) error {
	return validate.Struct(c)
}

// UpdateStatusRequest is the PUT /subscriptions/{id}/status payload.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Bind implements render.Binder.
func (u *UpdateStatusRequest) Bind(r *http.Request) error {
	return validate.Struct(u)
}

func (h *AdminHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, plans)
}

func (h *AdminHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req := &CreatePlanRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), services.PlanInput{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		Features:     req.Features,
		MaxDevices:   req.MaxDevices,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, plan)
}

func (h *AdminHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req := &UpdatePlanRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	upd := storage.PlanUpdate{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxDevices:   req.MaxDevices,
	}
	if req.Features != nil {
		upd.Features = *req.Features
	}

	plan, err := h.service.UpdatePlan(r.Context(), id, upd)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, plan)
}

func (h *AdminHandler) TogglePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	plan, err := h.service.TogglePlan(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, plan)
}

func (h *AdminHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.ListClients(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, clients)
}

func (h *AdminHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	req := &CreateClientRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	client, err := h.service.CreateClient(r.Context(), services.ClientInput{
		Name:    req.Name,
		Email:   req.Email,
		Company: req.Company,
		Phone:   req.Phone,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, client)
}

func (h *AdminHandler) ToggleClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	client, err := h.service.ToggleClient(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, client)
}

func (h *AdminHandler) RegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	key, err := h.service.RegenerateAPIKey(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"api_key": key})
}

func (h *AdminHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, subs)
}

func (h *AdminHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	req := &CreateSubscriptionRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), services.SubscriptionInput{
		ClientID:      req.ClientID,
		PlanID:        req.PlanID,
		MaxDevices:    req.MaxDevices,
		AutoRenew:     req.AutoRenew,
		PaymentAmount: req.PaymentAmount,
		Notes:         req.Notes,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sub)
}

func (h *AdminHandler) UpdateSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req := &UpdateStatusRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.service.UpdateSubscriptionStatus(r.Context(), id, req.Status); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

func (h *AdminHandler) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sub, err := h.service.RenewSubscription(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, sub)
}

func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	devices, err := h.service.ListDevices(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, devices)
}

func (h *AdminHandler) ToggleDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	device, err := h.service.ToggleDevice(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, device)
}

func (h *AdminHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveDevice(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.ForceLogout(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"success": true})
}

func (h *AdminHandler) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		h.renderError(w, r, apierrors.InvalidRequest("invalid id in path"))
		return 0, false
	}
	return uint(id), true
}

func (h *AdminHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.From(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "admin request failed",
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	if renderErr := render.Render(w, r, apiErr); renderErr != nil {
		http.Error(w, apiErr.Message, apiErr.StatusCode)
	}
}
