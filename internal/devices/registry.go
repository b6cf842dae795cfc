// Package devices implements the device registry: admission-controlled
// registration of physical devices against a tenant's subscription ceiling,
// plus the admin operations that share its state.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	apierrors "subgate/internal/errors"
	"subgate/internal/shared/locking"
	"subgate/internal/storage"
)

// Registry enforces the per-tenant device ceiling. The count-then-insert
// admission window is serialized per tenant through the shared keyed mutex
// and runs inside a single transaction.
type Registry struct {
	db                *gorm.DB
	locks             *locking.KeyedMutex
	defaultMaxDevices int
	logger            *slog.Logger
}

// NewRegistry creates a device registry. The keyed mutex must be the same
// instance the session store uses, so device and session admission for one
// tenant never interleave.
func NewRegistry(db *gorm.DB, locks *locking.KeyedMutex, defaultMaxDevices int, logger *slog.Logger) *Registry {
	if defaultMaxDevices < 1 {
		defaultMaxDevices = 1
	}
	return &Registry{
		db:                db,
		locks:             locks,
		defaultMaxDevices: defaultMaxDevices,
		logger:            logger.With(slog.String("component", "device_registry")),
	}
}

// Register records a device sighting for a tenant.
//
// A known (tenant, fingerprint) pair is updated in place (last seen, IP and
// raw info) with no ceiling re-check: an admitted device is never evicted
// because the ceiling later tightened. A new fingerprint is admitted only if
// the tenant has an active subscription and the count of active devices is
// below the effective ceiling.
func (r *Registry) Register(ctx context.Context, clientID uint, fp, displayName string, rawInfo datatypes.JSON, ipAddress string) (*storage.ClientDevice, error) {
	unlock := r.locks.Lock(clientID)
	defer unlock()

	var device storage.ClientDevice
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		err := tx.Where("client_id = ? AND device_fingerprint = ?", clientID, fp).First(&device).Error
		if err == nil {
			return tx.Model(&device).Updates(map[string]interface{}{
				"last_seen":    now,
				"ip_address":   ipAddress,
				"browser_info": rawInfo,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup device: %w", err)
		}

		var sub storage.Subscription
		err = tx.Preload("Plan").
			Where("client_id = ? AND status = ?", clientID, storage.StatusActive).
			Order("created_at DESC").
			First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierrors.ErrNoActiveSubscription
		}
		if err != nil {
			return fmt.Errorf("resolve subscription for ceiling: %w", err)
		}
		maxDevices := storage.EffectiveMaxDevices(&sub, r.defaultMaxDevices)

		var activeCount int64
		err = tx.Model(&storage.ClientDevice{}).
			Where("client_id = ? AND is_active = ?", clientID, true).
			Count(&activeCount).Error
		if err != nil {
			return fmt.Errorf("count active devices: %w", err)
		}
		if activeCount >= int64(maxDevices) {
			return apierrors.DeviceLimitReached(maxDevices)
		}

		device = storage.ClientDevice{
			ClientID:          clientID,
			DeviceFingerprint: fp,
			DeviceName:        displayName,
			BrowserInfo:       rawInfo,
			IPAddress:         ipAddress,
			IsActive:          true,
			FirstSeen:         now,
			LastSeen:          now,
		}
		return tx.Create(&device).Error
	})
	if err != nil {
		var apiErr *apierrors.APIError
		if !errors.As(err, &apiErr) {
			r.logger.ErrorContext(ctx, "device registration failed",
				slog.Uint64("client_id", uint64(clientID)),
				slog.String("fingerprint", fp),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	return &device, nil
}

// FindActive returns the active device row for (tenant, fingerprint), or
// storage.ErrNotFound.
func (r *Registry) FindActive(ctx context.Context, clientID uint, fp string) (*storage.ClientDevice, error) {
	var device storage.ClientDevice
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND device_fingerprint = ? AND is_active = ?", clientID, fp, true).
		First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active device: %w", err)
	}
	return &device, nil
}

// DeviceWithSession is a device row annotated with its live-session state,
// for the admin device list.
type DeviceWithSession struct {
	storage.ClientDevice
	HasActiveSession bool `json:"has_active_session"`
}

// ListByClient returns a tenant's devices, most recently seen first, each
// flagged with whether any unexpired session currently binds to it.
func (r *Registry) ListByClient(ctx context.Context, clientID uint) ([]DeviceWithSession, error) {
	var rows []storage.ClientDevice
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("last_seen DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var liveFingerprints []string
	err = r.db.WithContext(ctx).Model(&storage.ActiveSession{}).
		Distinct("device_fingerprint").
		Where("client_id = ? AND expires_at > ?", clientID, time.Now()).
		Pluck("device_fingerprint", &liveFingerprints).Error
	if err != nil {
		return nil, fmt.Errorf("list live session fingerprints: %w", err)
	}
	live := make(map[string]struct{}, len(liveFingerprints))
	for _, fp := range liveFingerprints {
		live[fp] = struct{}{}
	}

	devices := make([]DeviceWithSession, len(rows))
	for i, row := range rows {
		_, hasSession := live[row.DeviceFingerprint]
		devices[i] = DeviceWithSession{ClientDevice: row, HasActiveSession: hasSession}
	}
	return devices, nil
}

// ToggleActive flips a device's active flag. Deactivation cascades: all
// sessions bound to the device are deleted in the same transaction.
func (r *Registry) ToggleActive(ctx context.Context, deviceID uint) (*storage.ClientDevice, error) {
	var device storage.ClientDevice
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&device, deviceID).Error; err != nil {
			return err
		}
		device.IsActive = !device.IsActive
		if err := tx.Model(&device).Update("is_active", device.IsActive).Error; err != nil {
			return err
		}
		if !device.IsActive {
			return tx.Where("client_id = ? AND device_fingerprint = ?", device.ClientID, device.DeviceFingerprint).
				Delete(&storage.ActiveSession{}).Error
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle device status: %w", err)
	}
	return &device, nil
}

// Remove hard-deletes a device and every session bound to it.
func (r *Registry) Remove(ctx context.Context, deviceID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device storage.ClientDevice
		if err := tx.First(&device, deviceID).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ? AND device_fingerprint = ?", device.ClientID, device.DeviceFingerprint).
			Delete(&storage.ActiveSession{}).Error; err != nil {
			return err
		}
		return tx.Delete(&device).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}
