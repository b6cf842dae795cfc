// Package sessions implements the session store: issuing, validating and
// terminating the time-limited tokens that bind a verified device to a
// subscription.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	apierrors "subgate/internal/errors"
	"subgate/internal/shared/locking"
	"subgate/internal/storage"
)

// tokenBytes gives 256 bits of entropy per session token.
const tokenBytes = 32

// Store manages ActiveSession rows. Session admission (the
// distinct-fingerprint count check) is serialized per tenant through the
// keyed mutex shared with the device registry.
type Store struct {
	db              *gorm.DB
	locks           *locking.KeyedMutex
	ttl             time.Duration
	maxOtherDevices int
	logger          *slog.Logger
}

// NewStore creates a session store. maxOtherDevices is the number of
// distinct other physical devices that may hold live sessions while a new
// session is admitted; sessions on the requesting fingerprint never count.
func NewStore(db *gorm.DB, locks *locking.KeyedMutex, ttl time.Duration, maxOtherDevices int, logger *slog.Logger) *Store {
	return &Store{
		db:              db,
		locks:           locks,
		ttl:             ttl,
		maxOtherDevices: maxOtherDevices,
		logger:          logger.With(slog.String("component", "session_store")),
	}
}

// Create issues a new session token for a registered, active device.
//
// Sessions on the same fingerprint are unrestricted: multiple browsers on
// one physical device each hold their own token. Only live sessions on
// other fingerprints count against the admission threshold.
func (s *Store) Create(ctx context.Context, clientID uint, fp, subscriptionCode, ipAddress, userAgent string) (string, error) {
	var deviceCount int64
	err := s.db.WithContext(ctx).Model(&storage.ClientDevice{}).
		Where("client_id = ? AND device_fingerprint = ? AND is_active = ?", clientID, fp, true).
		Count(&deviceCount).Error
	if err != nil {
		return "", fmt.Errorf("check device registration: %w", err)
	}
	if deviceCount == 0 {
		return "", apierrors.ErrDeviceNotRegistered
	}

	// Opportunistic housekeeping; failure here never blocks session creation.
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.WarnContext(ctx, "expired session sweep failed", slog.String("error", err.Error()))
	}

	unlock := s.locks.Lock(clientID)
	defer unlock()

	token := newToken()
	now := time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var otherDevices int64
		err := tx.Model(&storage.ActiveSession{}).
			Where("client_id = ? AND device_fingerprint <> ? AND expires_at > ?", clientID, fp, now).
			Distinct("device_fingerprint").
			Count(&otherDevices).Error
		if err != nil {
			return fmt.Errorf("count sessions on other devices: %w", err)
		}
		if otherDevices > int64(s.maxOtherDevices) {
			return apierrors.ErrSubscriptionActiveElsewhere
		}

		return tx.Create(&storage.ActiveSession{
			ClientID:          clientID,
			DeviceFingerprint: fp,
			SessionToken:      token,
			SubscriptionCode:  subscriptionCode,
			IPAddress:         ipAddress,
			UserAgent:         userAgent,
			ExpiresAt:         now.Add(s.ttl),
			LastActivity:      now,
		}).Error
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "session created",
		slog.Uint64("client_id", uint64(clientID)),
		slog.String("fingerprint", fp),
		slog.Time("expires_at", now.Add(s.ttl)),
	)
	return token, nil
}

// Validate checks a token against the presented fingerprint. On success it
// touches last_activity and returns the owning tenant id. Wrong fingerprint,
// unknown token and expired session all collapse into the same generic
// error; callers can not enumerate which part of the credential failed.
func (s *Store) Validate(ctx context.Context, token, fp string) (uint, error) {
	var session storage.ActiveSession
	err := s.db.WithContext(ctx).
		Where("session_token = ? AND device_fingerprint = ? AND expires_at > ?", token, fp, time.Now()).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierrors.ErrSessionInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("validate session: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&session).Update("last_activity", time.Now()).Error; err != nil {
		// The session is valid either way; a failed touch is not worth a retry.
		s.logger.WarnContext(ctx, "failed to touch session activity", slog.String("error", err.Error()))
	}
	return session.ClientID, nil
}

// End deletes a session. Token, fingerprint AND tenant must all match: a
// stolen token alone cannot terminate another device's session. Deleting a
// nonexistent session is not an error.
func (s *Store) End(ctx context.Context, clientID uint, token, fp string) error {
	err := s.db.WithContext(ctx).
		Where("session_token = ? AND device_fingerprint = ? AND client_id = ?", token, fp, clientID).
		Delete(&storage.ActiveSession{}).Error
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// EndAllForClient force-logs-out every device of a tenant.
func (s *Store) EndAllForClient(ctx context.Context, clientID uint) error {
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Delete(&storage.ActiveSession{}).Error
	if err != nil {
		return fmt.Errorf("end all sessions: %w", err)
	}
	return nil
}

// Sweep deletes every expired session row. Idempotent and safe to run
// concurrently from any call path.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&storage.ActiveSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TTL exposes the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
