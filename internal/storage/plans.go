package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlanRepository provides access to SubscriptionPlan rows.
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a plan repository
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// List returns all plans ordered by price.
func (r *PlanRepository) List(ctx context.Context) ([]SubscriptionPlan, error) {
	var plans []SubscriptionPlan
	if err := r.db.WithContext(ctx).Order("price ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// FindByID returns one plan.
func (r *PlanRepository) FindByID(ctx context.Context, id uint) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	err := r.db.WithContext(ctx).First(&plan, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return &plan, nil
}

// Create inserts a new plan.
func (r *PlanRepository) Create(ctx context.Context, plan *SubscriptionPlan) error {
	if err := r.db.WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// PlanUpdate carries the mutable plan fields; nil members are left unchanged.
type PlanUpdate struct {
	Name         *string
	Description  *string
	Price        *float64
	DurationDays *int
	Features     datatypes.JSON
	MaxDevices   *int
}

// Update applies a partial update to a plan.
func (r *PlanRepository) Update(ctx context.Context, id uint, upd PlanUpdate) error {
	fields := map[string]interface{}{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if upd.Price != nil {
		fields["price"] = *upd.Price
	}
	if upd.DurationDays != nil {
		fields["duration_days"] = *upd.DurationDays
	}
	if upd.Features != nil {
		fields["features"] = upd.Features
	}
	if upd.MaxDevices != nil {
		fields["max_devices"] = *upd.MaxDevices
	}
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&SubscriptionPlan{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleActive flips the plan's active flag. Subscriptions referencing an
// inactive plan keep working; the flag only gates new subscription creation.
func (r *PlanRepository) ToggleActive(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&SubscriptionPlan{}).
		Where("id = ?", id).
		Update("is_active", gorm.Expr("NOT is_active"))
	if res.Error != nil {
		return fmt.Errorf("toggle plan status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
