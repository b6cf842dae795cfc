package sessions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apierrors "subgate/internal/errors"
	"subgate/internal/shared/locking"
	"subgate/internal/shared/testutil"
	"subgate/internal/storage"
)

func newTestStore(t *testing.T, ttl time.Duration, maxOtherDevices int) (*Store, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(db, locking.NewKeyedMutex(), ttl, maxOtherDevices, logger), db
}

func TestCreateIssuesToken(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")

	token, err := store.Create(context.Background(), client.ID, "fp-1", "SUB_AABBCC_DDEEFF", "203.0.113.1", "curl/8")
	require.NoError(t, err)
	assert.Len(t, token, 64, "token must be 32 random bytes hex encoded")

	var session storage.ActiveSession
	require.NoError(t, db.Where("session_token = ?", token).First(&session).Error)
	assert.Equal(t, client.ID, session.ClientID)
	assert.Equal(t, "SUB_AABBCC_DDEEFF", session.SubscriptionCode)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestCreateRequiresRegisteredDevice(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")

	_, err := store.Create(context.Background(), client.ID, "fp-unknown", "", "", "")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeDeviceNotRegistered))

	// A deactivated device is treated the same as an unknown one.
	device := testutil.SeedDevice(t, db, client.ID, "fp-off")
	require.NoError(t, db.Model(device).Update("is_active", false).Error)
	_, err = store.Create(context.Background(), client.ID, "fp-off", "", "", "")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeDeviceNotRegistered))
}

func TestCreateSameDeviceUnrestricted(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 0)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")

	// Several browsers on one physical device each get their own token,
	// even under the strictest other-device threshold.
	for i := 0; i < 3; i++ {
		_, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&storage.ActiveSession{}).Where("client_id = ?", client.ID).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestCreateOtherDeviceThreshold(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	for i := 1; i <= 6; i++ {
		testutil.SeedDevice(t, db, client.ID, fmt.Sprintf("fp-%d", i))
	}

	// Live sessions on 4 other devices are tolerated. The count is of
	// distinct fingerprints, so two sessions on one device count once.
	for i := 1; i <= 4; i++ {
		_, err := store.Create(context.Background(), client.ID, fmt.Sprintf("fp-%d", i), "", "", "")
		require.NoError(t, err)
	}
	_, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	_, err = store.Create(context.Background(), client.ID, "fp-5", "", "", "")
	require.NoError(t, err, "4 other devices is within the threshold")

	_, err = store.Create(context.Background(), client.ID, "fp-6", "", "", "")
	require.Error(t, err)
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSubscriptionActiveElsewhere))
	assert.Contains(t, err.Error(), "active on another device")
}

func TestCreateStrictSingleDeviceMode(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 0)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")
	testutil.SeedDevice(t, db, client.ID, "fp-2")

	_, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	_, err = store.Create(context.Background(), client.ID, "fp-2", "", "", "")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSubscriptionActiveElsewhere))
}

func TestCreateExpiredSessionsDoNotBlock(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 0)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")
	testutil.SeedDevice(t, db, client.ID, "fp-2")

	require.NoError(t, db.Create(&storage.ActiveSession{
		ClientID: client.ID, DeviceFingerprint: "fp-2",
		SessionToken: "tok-expired", ExpiresAt: time.Now().Add(-time.Minute), LastActivity: time.Now(),
	}).Error)

	_, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	// The opportunistic sweep removed the expired row.
	var count int64
	require.NoError(t, db.Model(&storage.ActiveSession{}).
		Where("session_token = ?", "tok-expired").Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestValidate(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")

	token, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	clientID, err := store.Validate(context.Background(), token, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, client.ID, clientID)

	// Wrong fingerprint and unknown token fail identically.
	_, err = store.Validate(context.Background(), token, "fp-other")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSessionInvalid))
	_, err = store.Validate(context.Background(), "no-such-token", "fp-1")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSessionInvalid))
}

func TestValidateTouchesLastActivity(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	testutil.SeedDevice(t, db, client.ID, "fp-1")

	token, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	var before storage.ActiveSession
	require.NoError(t, db.Where("session_token = ?", token).First(&before).Error)
	require.NoError(t, db.Model(&before).Update("last_activity", time.Now().Add(-time.Hour)).Error)

	_, err = store.Validate(context.Background(), token, "fp-1")
	require.NoError(t, err)

	var after storage.ActiveSession
	require.NoError(t, db.Where("session_token = ?", token).First(&after).Error)
	assert.WithinDuration(t, time.Now(), after.LastActivity, 5*time.Second)
	// Expiry stays fixed; validation never slides it.
	assert.Equal(t, before.ExpiresAt.Unix(), after.ExpiresAt.Unix())
}

func TestValidateExpiredSession(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")

	require.NoError(t, db.Create(&storage.ActiveSession{
		ClientID: client.ID, DeviceFingerprint: "fp-1",
		SessionToken: "tok-old", ExpiresAt: time.Now().Add(-time.Second), LastActivity: time.Now(),
	}).Error)

	_, err := store.Validate(context.Background(), "tok-old", "fp-1")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSessionInvalid))
}

func TestEndRequiresFullTripleMatch(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	other := testutil.SeedTenant(t, db, "other")
	testutil.SeedDevice(t, db, client.ID, "fp-1")

	token, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)

	// Wrong fingerprint or wrong tenant leaves the session alive.
	require.NoError(t, store.End(context.Background(), client.ID, token, "fp-wrong"))
	require.NoError(t, store.End(context.Background(), other.ID, token, "fp-1"))
	_, err = store.Validate(context.Background(), token, "fp-1")
	require.NoError(t, err)

	require.NoError(t, store.End(context.Background(), client.ID, token, "fp-1"))
	_, err = store.Validate(context.Background(), token, "fp-1")
	assert.True(t, apierrors.IsCode(err, apierrors.CodeSessionInvalid))

	// Ending an already-ended session is a no-op.
	require.NoError(t, store.End(context.Background(), client.ID, token, "fp-1"))
}

func TestEndAllForClient(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")
	other := testutil.SeedTenant(t, db, "other")
	testutil.SeedDevice(t, db, client.ID, "fp-1")
	testutil.SeedDevice(t, db, other.ID, "fp-9")

	_, err := store.Create(context.Background(), client.ID, "fp-1", "", "", "")
	require.NoError(t, err)
	otherToken, err := store.Create(context.Background(), other.ID, "fp-9", "", "", "")
	require.NoError(t, err)

	require.NoError(t, store.EndAllForClient(context.Background(), client.ID))

	var count int64
	require.NoError(t, db.Model(&storage.ActiveSession{}).Where("client_id = ?", client.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	// Other tenants are untouched.
	_, err = store.Validate(context.Background(), otherToken, "fp-9")
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	store, db := newTestStore(t, time.Hour, 4)
	client := testutil.SeedTenant(t, db, "acme")

	now := time.Now()
	for i, offset := range []time.Duration{-time.Hour, -time.Second, time.Hour} {
		require.NoError(t, db.Create(&storage.ActiveSession{
			ClientID: client.ID, DeviceFingerprint: "fp-1",
			SessionToken: fmt.Sprintf("tok-%d", i), ExpiresAt: now.Add(offset), LastActivity: now,
		}).Error)
	}

	removed, err := store.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	var remaining int64
	require.NoError(t, db.Model(&storage.ActiveSession{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}
