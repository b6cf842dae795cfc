// Package services holds the business logic between the HTTP transport and
// the storage layer: the license verification protocol and the admin
// operations that manage tenants, plans, subscriptions and devices.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	apierrors "subgate/internal/errors"
	"subgate/internal/devices"
	"subgate/internal/fingerprint"
	"subgate/internal/sessions"
	"subgate/internal/storage"
)

// VerificationService is the external licensing protocol: everything the
// userscript-facing API can do on behalf of an authenticated tenant.
type VerificationService interface {
	Verify(ctx context.Context, tenant *storage.Client, code string, meta CallMeta) (*VerifyResponse, error)
	VerifyDevice(ctx context.Context, tenant *storage.Client, req VerifyDeviceRequest, meta CallMeta) (*VerifyDeviceResponse, error)
	LogoutDevice(ctx context.Context, tenant *storage.Client, token, fp string, meta CallMeta) error
	Status(ctx context.Context, tenant *storage.Client, meta CallMeta) (*StatusResponse, error)
}

// CallMeta carries the transport-level facts recorded in the usage audit
// trail alongside each verification call.
type CallMeta struct {
	Endpoint  string
	IPAddress string
	UserAgent string
}

// VerifyDeviceRequest is the service-level input of the verify-device
// operation. RawDeviceData preserves the payload exactly as received for the
// admin device view; Device is the parsed form the fingerprint hashes.
type VerifyDeviceRequest struct {
	SubscriptionCode string
	Device           fingerprint.DeviceData
	RawDeviceData    json.RawMessage
	SessionToken     string
}

// SubscriptionSnapshot is the plan metadata returned to verified callers.
type SubscriptionSnapshot struct {
	Code       string          `json:"code"`
	Status     string          `json:"status"`
	Plan       string          `json:"plan"`
	Features   json.RawMessage `json:"features,omitempty"`
	EndDate    time.Time       `json:"end_date"`
	AutoRenew  bool            `json:"auto_renew"`
	MaxDevices int             `json:"max_devices,omitempty"`
}

// VerifyResponse answers POST /verify.
type VerifyResponse struct {
	Valid        bool                  `json:"valid"`
	Subscription *SubscriptionSnapshot `json:"subscription,omitempty"`
}

// VerifyDeviceResponse answers POST /verify-device.
type VerifyDeviceResponse struct {
	Valid        bool                  `json:"valid"`
	SessionToken string                `json:"session_token,omitempty"`
	Subscription *SubscriptionSnapshot `json:"subscription,omitempty"`
}

// SubscriptionStatus is one row of the tenant self-service status listing.
type SubscriptionStatus struct {
	SubscriptionCode string          `json:"subscription_code"`
	Status           string          `json:"status"`
	Plan             string          `json:"plan"`
	Features         json.RawMessage `json:"features,omitempty"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	AutoRenew        bool            `json:"auto_renew"`
	IsExpired        bool            `json:"is_expired"`
}

// StatusResponse answers GET /status.
type StatusResponse struct {
	Subscriptions []SubscriptionStatus `json:"subscriptions"`
}

type verificationService struct {
	subscriptions *storage.SubscriptionRepository
	registry      *devices.Registry
	store         *sessions.Store
	usage         *storage.UsageLogRepository
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewVerificationService wires the protocol orchestration over the device
// registry, session store and subscription repository.
func NewVerificationService(
	subscriptions *storage.SubscriptionRepository,
	registry *devices.Registry,
	store *sessions.Store,
	usage *storage.UsageLogRepository,
	logger *slog.Logger,
) VerificationService {
	return &verificationService{
		subscriptions: subscriptions,
		registry:      registry,
		store:         store,
		usage:         usage,
		logger:        logger.With(slog.String("service", "verification")),
		tracer:        otel.Tracer("subgate/services"),
	}
}

// Verify resolves a subscription code for the tenant and reports validity.
// Unlike session validation, subscription-state failures are informative:
// the caller learns whether the subscription is expired, suspended or
// cancelled.
func (s *verificationService) Verify(ctx context.Context, tenant *storage.Client, code string, meta CallMeta) (resp *VerifyResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify",
		trace.WithAttributes(attribute.Int64("tenant.id", int64(tenant.ID))))
	defer span.End()

	var sub *storage.Subscription
	defer func() { s.audit(ctx, tenant, sub, meta, nil, err) }()

	sub, err = s.resolveValid(ctx, tenant.ID, code)
	if err != nil {
		return nil, err
	}

	return &VerifyResponse{
		Valid:        true,
		Subscription: s.snapshot(sub, false),
	}, nil
}

// VerifyDevice is the full protocol: resolve subscription, then either
// validate an existing session token (fast path, no ceiling re-check) or
// admit the device and issue a fresh token.
func (s *verificationService) VerifyDevice(ctx context.Context, tenant *storage.Client, req VerifyDeviceRequest, meta CallMeta) (resp *VerifyDeviceResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.VerifyDevice",
		trace.WithAttributes(attribute.Int64("tenant.id", int64(tenant.ID))))
	defer span.End()

	var sub *storage.Subscription
	defer func() { s.audit(ctx, tenant, sub, meta, req.RawDeviceData, err) }()

	sub, err = s.resolveValid(ctx, tenant.ID, req.SubscriptionCode)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.Generate(req.Device)
	span.SetAttributes(attribute.String("device.fingerprint", fp))

	if req.SessionToken != "" {
		clientID, verr := s.store.Validate(ctx, req.SessionToken, fp)
		if verr == nil && clientID == tenant.ID {
			return &VerifyDeviceResponse{
				Valid:        true,
				SessionToken: req.SessionToken,
				Subscription: s.snapshot(sub, true),
			}, nil
		}
		// A stale or foreign token falls through to full registration.
	}

	_, err = s.registry.Register(ctx, tenant.ID, fp, req.Device.DisplayName(), datatypes.JSON(req.RawDeviceData), meta.IPAddress)
	if err != nil {
		return nil, err
	}

	token, err := s.store.Create(ctx, tenant.ID, fp, sub.SubscriptionCode, meta.IPAddress, meta.UserAgent)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "device verified",
		slog.Uint64("client_id", uint64(tenant.ID)),
		slog.String("subscription_code", sub.SubscriptionCode),
		slog.String("fingerprint", fp),
	)
	return &VerifyDeviceResponse{
		Valid:        true,
		SessionToken: token,
		Subscription: s.snapshot(sub, true),
	}, nil
}

// LogoutDevice terminates one session. The token, fingerprint and tenant
// must all match; a mismatch is indistinguishable from an already-ended
// session.
func (s *verificationService) LogoutDevice(ctx context.Context, tenant *storage.Client, token, fp string, meta CallMeta) (err error) {
	ctx, span := s.tracer.Start(ctx, "verification.LogoutDevice",
		trace.WithAttributes(attribute.Int64("tenant.id", int64(tenant.ID))))
	defer span.End()

	defer func() { s.audit(ctx, tenant, nil, meta, nil, err) }()

	return s.store.End(ctx, tenant.ID, token, fp)
}

// Status lists all of the tenant's subscriptions with computed expiry.
func (s *verificationService) Status(ctx context.Context, tenant *storage.Client, meta CallMeta) (resp *StatusResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.Status",
		trace.WithAttributes(attribute.Int64("tenant.id", int64(tenant.ID))))
	defer span.End()

	defer func() { s.audit(ctx, tenant, nil, meta, nil, err) }()

	subs, err := s.subscriptions.ListByClient(ctx, tenant.ID)
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := time.Now()
	out := make([]SubscriptionStatus, len(subs))
	for i, sub := range subs {
		out[i] = SubscriptionStatus{
			SubscriptionCode: sub.SubscriptionCode,
			Status:           sub.Status,
			Plan:             sub.Plan.Name,
			Features:         json.RawMessage(sub.Plan.Features),
			StartDate:        sub.StartDate,
			EndDate:          sub.EndDate,
			AutoRenew:        sub.AutoRenew,
			IsExpired:        sub.IsExpired(now),
		}
	}
	return &StatusResponse{Subscriptions: out}, nil
}

// resolveValid loads the tenant's subscription by code and enforces state:
// unknown code, non-active status and date expiry each surface their own
// error.
func (s *verificationService) resolveValid(ctx context.Context, clientID uint, code string) (*storage.Subscription, error) {
	sub, err := s.subscriptions.ResolveByCode(ctx, clientID, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	if sub.Status != storage.StatusActive {
		return nil, apierrors.SubscriptionInactive(sub.Status)
	}
	if sub.IsExpired(time.Now()) {
		return nil, apierrors.ErrSubscriptionExpired
	}
	return sub, nil
}

func (s *verificationService) snapshot(sub *storage.Subscription, withCeiling bool) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		Code:      sub.SubscriptionCode,
		Status:    sub.Status,
		Plan:      sub.Plan.Name,
		Features:  json.RawMessage(sub.Plan.Features),
		EndDate:   sub.EndDate,
		AutoRenew: sub.AutoRenew,
	}
	if withCeiling {
		snap.MaxDevices = s.subscriptions.EffectiveMaxDevices(sub)
	}
	return snap
}

// audit appends one usage-log row per terminal protocol step. Best effort:
// audit failures are logged inside the repository but never surface.
func (s *verificationService) audit(ctx context.Context, tenant *storage.Client, sub *storage.Subscription, meta CallMeta, requestData json.RawMessage, callErr error) {
	status := 200
	if callErr != nil {
		status = apierrors.From(callErr).StatusCode
	}
	entry := &storage.SubscriptionUsageLog{
		ClientID:       tenant.ID,
		APIEndpoint:    meta.Endpoint,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		RequestData:    datatypes.JSON(requestData),
		ResponseStatus: status,
	}
	if sub != nil {
		id := sub.ID
		entry.SubscriptionID = &id
	}
	s.usage.Append(ctx, entry)
}
