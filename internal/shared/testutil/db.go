// Package testutil provides test fixtures shared across package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"subgate/internal/storage"
)

// NewDB opens a fresh in-memory SQLite database with the full schema
// migrated. The pool is pinned to a single connection because each SQLite
// :memory: connection is its own database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.Migrate(db))
	return db
}

// SeedTenant inserts an active tenant and returns it.
func SeedTenant(t *testing.T, db *gorm.DB, name string) *storage.Client {
	t.Helper()

	client := &storage.Client{
		Name:     name,
		Email:    name + "@example.com",
		APIKey:   storage.GenerateAPIKey(),
		IsActive: true,
	}
	require.NoError(t, db.Create(client).Error)
	return client
}

// SeedSubscription inserts a plan and an active subscription for the tenant.
// maxDevices applies as the subscription-level override; pass nil to fall
// back to the plan default.
func SeedSubscription(t *testing.T, db *gorm.DB, clientID uint, maxDevices *int) *storage.Subscription {
	t.Helper()

	plan := &storage.SubscriptionPlan{
		Name:         "Pro",
		Price:        9.99,
		DurationDays: 30,
		IsActive:     true,
	}
	require.NoError(t, db.Create(plan).Error)

	now := time.Now()
	sub := &storage.Subscription{
		ClientID:         clientID,
		PlanID:           plan.ID,
		SubscriptionCode: storage.GenerateSubscriptionCode(),
		Status:           storage.StatusActive,
		StartDate:        now,
		EndDate:          now.AddDate(0, 0, plan.DurationDays),
		MaxDevices:       maxDevices,
	}
	require.NoError(t, db.Create(sub).Error)
	sub.Plan = *plan
	return sub
}

// SeedDevice inserts an active device row for the tenant.
func SeedDevice(t *testing.T, db *gorm.DB, clientID uint, fp string) *storage.ClientDevice {
	t.Helper()

	now := time.Now()
	device := &storage.ClientDevice{
		ClientID:          clientID,
		DeviceFingerprint: fp,
		DeviceName:        "Test device",
		IPAddress:         "203.0.113.10",
		IsActive:          true,
		FirstSeen:         now,
		LastSeen:          now,
	}
	require.NoError(t, db.Create(device).Error)
	return device
}
