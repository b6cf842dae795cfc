package services

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/datatypes"

	apierrors "subgate/internal/errors"
	"subgate/internal/devices"
	"subgate/internal/sessions"
	"subgate/internal/storage"
)

// AdminService is the management surface behind the staff UI: tenants,
// plans, subscriptions and the device/session state shared with the
// verification hot path.
type AdminService interface {
	ListPlans(ctx context.Context) ([]storage.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, input PlanInput) (*storage.SubscriptionPlan, error)
	UpdatePlan(ctx context.Context, id uint, upd storage.PlanUpdate) (*storage.SubscriptionPlan, error)
	TogglePlan(ctx context.Context, id uint) (*storage.SubscriptionPlan, error)

	ListClients(ctx context.Context) ([]storage.Client, error)
	CreateClient(ctx context.Context, input ClientInput) (*storage.Client, error)
	ToggleClient(ctx context.Context, id uint) (*storage.Client, error)
	RegenerateAPIKey(ctx context.Context, id uint) (string, error)

	ListSubscriptions(ctx context.Context) ([]storage.Subscription, error)
	CreateSubscription(ctx context.Context, input SubscriptionInput) (*storage.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id uint, status string) error
	RenewSubscription(ctx context.Context, id uint) (*storage.Subscription, error)

	ListDevices(ctx context.Context, clientID uint) ([]devices.DeviceWithSession, error)
	ToggleDevice(ctx context.Context, deviceID uint) (*storage.ClientDevice, error)
	RemoveDevice(ctx context.Context, deviceID uint) error
	ForceLogout(ctx context.Context, clientID uint) error
}

// PlanInput is the admin payload for creating a plan.
type PlanInput struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Price        float64        `json:"price"`
	DurationDays int            `json:"duration_days"`
	Features     datatypes.JSON `json:"features"`
	MaxDevices   *int           `json:"max_devices"`
}

// ClientInput is the admin payload for creating a tenant.
type ClientInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}

// SubscriptionInput is the admin payload for issuing a subscription.
type SubscriptionInput struct {
	ClientID      uint     `json:"client_id"`
	PlanID        uint     `json:"plan_id"`
	MaxDevices    *int     `json:"max_devices"`
	AutoRenew     bool     `json:"auto_renew"`
	PaymentAmount *float64 `json:"payment_amount"`
	Notes         string   `json:"notes"`
}

type adminService struct {
	tenants       *storage.TenantRepository
	plans         *storage.PlanRepository
	subscriptions *storage.SubscriptionRepository
	registry      *devices.Registry
	store         *sessions.Store
	logger        *slog.Logger
}

// NewAdminService wires the management operations over the repositories and
// the shared device/session state.
func NewAdminService(
	tenants *storage.TenantRepository,
	plans *storage.PlanRepository,
	subscriptions *storage.SubscriptionRepository,
	registry *devices.Registry,
	store *sessions.Store,
	logger *slog.Logger,
) AdminService {
	return &adminService{
		tenants:       tenants,
		plans:         plans,
		subscriptions: subscriptions,
		registry:      registry,
		store:         store,
		logger:        logger.With(slog.String("service", "admin")),
	}
}

func (s *adminService) ListPlans(ctx context.Context) ([]storage.SubscriptionPlan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return plans, nil
}

func (s *adminService) CreatePlan(ctx context.Context, input PlanInput) (*storage.SubscriptionPlan, error) {
	plan := &storage.SubscriptionPlan{
		Name:         input.Name,
		Description:  input.Description,
		Price:        input.Price,
		DurationDays: input.DurationDays,
		Features:     input.Features,
		MaxDevices:   input.MaxDevices,
		IsActive:     true,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "plan created", slog.Uint64("plan_id", uint64(plan.ID)), slog.String("name", plan.Name))
	return plan, nil
}

func (s *adminService) UpdatePlan(ctx context.Context, id uint, upd storage.PlanUpdate) (*storage.SubscriptionPlan, error) {
	if err := s.plans.Update(ctx, id, upd); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierrors.NotFound("Plan")
		}
		return nil, apierrors.Internal(err)
	}
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return plan, nil
}

func (s *adminService) TogglePlan(ctx context.Context, id uint) (*storage.SubscriptionPlan, error) {
	if err := s.plans.ToggleActive(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierrors.NotFound("Plan")
		}
		return nil, apierrors.Internal(err)
	}
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return plan, nil
}

func (s *adminService) ListClients(ctx context.Context) ([]storage.Client, error) {
	clients, err := s.tenants.List(ctx)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return clients, nil
}

func (s *adminService) CreateClient(ctx context.Context, input ClientInput) (*storage.Client, error) {
	client := &storage.Client{
		Name:     input.Name,
		Email:    input.Email,
		Company:  input.Company,
		Phone:    input.Phone,
		IsActive: true,
	}
	if err := s.tenants.Create(ctx, client); err != nil {
		return nil, apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "client created", slog.Uint64("client_id", uint64(client.ID)), slog.String("name", client.Name))
	return client, nil
}

func (s *adminService) ToggleClient(ctx context.Context, id uint) (*storage.Client, error) {
	client, err := s.tenants.ToggleActive(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.NotFound("Client")
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return client, nil
}

func (s *adminService) RegenerateAPIKey(ctx context.Context, id uint) (string, error) {
	key, err := s.tenants.RegenerateAPIKey(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apierrors.NotFound("Client")
	}
	if err != nil {
		return "", apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "api key regenerated", slog.Uint64("client_id", uint64(id)))
	return key, nil
}

func (s *adminService) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	subs, err := s.subscriptions.ListAll(ctx)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return subs, nil
}

func (s *adminService) CreateSubscription(ctx context.Context, input SubscriptionInput) (*storage.Subscription, error) {
	if _, err := s.tenants.FindByID(ctx, input.ClientID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierrors.NotFound("Client")
		}
		return nil, apierrors.Internal(err)
	}
	if _, err := s.plans.FindByID(ctx, input.PlanID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierrors.NotFound("Plan")
		}
		return nil, apierrors.Internal(err)
	}

	sub := &storage.Subscription{
		ClientID:      input.ClientID,
		PlanID:        input.PlanID,
		MaxDevices:    input.MaxDevices,
		AutoRenew:     input.AutoRenew,
		PaymentAmount: input.PaymentAmount,
		Notes:         input.Notes,
	}
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "subscription created",
		slog.Uint64("client_id", uint64(sub.ClientID)),
		slog.String("code", sub.SubscriptionCode),
	)
	return sub, nil
}

func (s *adminService) UpdateSubscriptionStatus(ctx context.Context, id uint, status string) error {
	switch status {
	case storage.StatusActive, storage.StatusExpired, storage.StatusCancelled, storage.StatusSuspended:
	default:
		return apierrors.Validation("status", "unknown subscription status")
	}
	err := s.subscriptions.UpdateStatus(ctx, id, status)
	if errors.Is(err, storage.ErrNotFound) {
		return apierrors.NotFound("Subscription")
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	return nil
}

// RenewSubscription restarts the validity window from now for the plan's
// full duration and flips the status back to active.
func (s *adminService) RenewSubscription(ctx context.Context, id uint) (*storage.Subscription, error) {
	sub, err := s.findSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.subscriptions.Renew(ctx, id, sub.Plan.DurationDays); err != nil {
		return nil, apierrors.Internal(err)
	}
	sub, err = s.findSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "subscription renewed",
		slog.String("code", sub.SubscriptionCode),
		slog.Time("end_date", sub.EndDate),
	)
	return sub, nil
}

func (s *adminService) findSubscription(ctx context.Context, id uint) (*storage.Subscription, error) {
	sub, err := s.subscriptions.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.NotFound("Subscription")
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return sub, nil
}

func (s *adminService) ListDevices(ctx context.Context, clientID uint) ([]devices.DeviceWithSession, error) {
	list, err := s.registry.ListByClient(ctx, clientID)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return list, nil
}

func (s *adminService) ToggleDevice(ctx context.Context, deviceID uint) (*storage.ClientDevice, error) {
	device, err := s.registry.ToggleActive(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.NotFound("Device")
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "device toggled",
		slog.Uint64("device_id", uint64(device.ID)),
		slog.Bool("is_active", device.IsActive),
	)
	return device, nil
}

func (s *adminService) RemoveDevice(ctx context.Context, deviceID uint) error {
	err := s.registry.Remove(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return apierrors.NotFound("Device")
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	return nil
}

// ForceLogout terminates every live session of a tenant across all devices.
func (s *adminService) ForceLogout(ctx context.Context, clientID uint) error {
	if err := s.store.EndAllForClient(ctx, clientID); err != nil {
		return apierrors.Internal(err)
	}
	s.logger.InfoContext(ctx, "forced logout", slog.Uint64("client_id", uint64(clientID)))
	return nil
}
