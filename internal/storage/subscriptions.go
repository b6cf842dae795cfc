package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SubscriptionRepository provides access to Subscription rows together with
// their plan data.
type SubscriptionRepository struct {
	db                *gorm.DB
	defaultMaxDevices int
}

// NewSubscriptionRepository creates a subscription repository.
// defaultMaxDevices applies when neither the subscription nor its plan
// carries a device ceiling.
func NewSubscriptionRepository(db *gorm.DB, defaultMaxDevices int) *SubscriptionRepository {
	if defaultMaxDevices < 1 {
		defaultMaxDevices = 1
	}
	return &SubscriptionRepository{db: db, defaultMaxDevices: defaultMaxDevices}
}

// EffectiveMaxDevices resolves a subscription's device ceiling: the
// subscription override wins, then the plan default, then the configured
// fallback.
func (r *SubscriptionRepository) EffectiveMaxDevices(sub *Subscription) int {
	return EffectiveMaxDevices(sub, r.defaultMaxDevices)
}

// EffectiveMaxDevices resolves the device ceiling for a subscription whose
// Plan association is loaded.
func EffectiveMaxDevices(sub *Subscription, fallback int) int {
	if sub.MaxDevices != nil && *sub.MaxDevices > 0 {
		return *sub.MaxDevices
	}
	if sub.Plan.MaxDevices != nil && *sub.Plan.MaxDevices > 0 {
		return *sub.Plan.MaxDevices
	}
	return fallback
}

// ResolveByCode loads a subscription (with plan) by code, scoped to the
// owning tenant. A code belonging to another tenant is indistinguishable
// from an unknown code.
func (r *SubscriptionRepository) ResolveByCode(ctx context.Context, clientID uint, code string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("subscription_code = ? AND client_id = ?", code, clientID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}
	return &sub, nil
}

// FindByID loads a subscription with its plan by primary key.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).Preload("Plan").First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

// CurrentActiveForClient returns the tenant's most recent active
// subscription, used for device ceiling resolution during registration.
func (r *SubscriptionRepository) CurrentActiveForClient(ctx context.Context, clientID uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("client_id = ? AND status = ?", clientID, StatusActive).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current active subscription: %w", err)
	}
	return &sub, nil
}

// ListByClient returns all of a tenant's subscriptions, newest first.
func (r *SubscriptionRepository) ListByClient(ctx context.Context, clientID uint) ([]Subscription, error) {
	var subs []Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by client: %w", err)
	}
	return subs, nil
}

// ListAll returns every subscription joined with client and plan, for the
// admin surface.
func (r *SubscriptionRepository) ListAll(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := r.db.WithContext(ctx).
		Preload("Client").
		Preload("Plan").
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Create inserts a subscription. The code is generated when absent and the
// end date is derived from the plan duration when unset.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	if sub.SubscriptionCode == "" {
		sub.SubscriptionCode = GenerateSubscriptionCode()
	}
	if sub.Status == "" {
		sub.Status = StatusActive
	}
	if sub.StartDate.IsZero() {
		sub.StartDate = time.Now()
	}
	if sub.EndDate.IsZero() {
		var plan SubscriptionPlan
		if err := r.db.WithContext(ctx).First(&plan, sub.PlanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load plan for subscription: %w", err)
		}
		sub.EndDate = sub.StartDate.AddDate(0, 0, plan.DurationDays)
	}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// UpdateStatus sets the subscription status.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	res := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update subscription status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Renew restarts the subscription window from now for the given duration and
// flips the status back to active.
func (r *SubscriptionRepository) Renew(ctx context.Context, id uint, durationDays int) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusActive,
			"start_date": now,
			"end_date":   now.AddDate(0, 0, durationDays),
		})
	if res.Error != nil {
		return fmt.Errorf("renew subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GenerateSubscriptionCode produces a shareable code: SUB_XXXXXX_XXXXXX.
func GenerateSubscriptionCode() string {
	part := func() string {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		return strings.ToUpper(hex.EncodeToString(buf))
	}
	return fmt.Sprintf("SUB_%s_%s", part(), part())
}
