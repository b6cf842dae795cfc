package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// TenantRepository provides access to Client rows.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindByAPIKey resolves an API key to an active tenant. Inactive tenants are
// treated the same as unknown keys.
func (r *TenantRepository) FindByAPIKey(ctx context.Context, apiKey string) (*Client, error) {
	var client Client
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND is_active = ?", apiKey, true).
		First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client by api key: %w", err)
	}
	return &client, nil
}

// FindByID returns a tenant regardless of active flag.
func (r *TenantRepository) FindByID(ctx context.Context, id uint) (*Client, error) {
	var client Client
	err := r.db.WithContext(ctx).First(&client, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client by id: %w", err)
	}
	return &client, nil
}

// List returns all tenants, newest first.
func (r *TenantRepository) List(ctx context.Context) ([]Client, error) {
	var clients []Client
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// Create inserts a new tenant with a freshly generated API key.
func (r *TenantRepository) Create(ctx context.Context, client *Client) error {
	if client.APIKey == "" {
		client.APIKey = GenerateAPIKey()
	}
	if err := r.db.WithContext(ctx).Create(client).Error; err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// ToggleActive flips the tenant's active flag and returns the updated row.
func (r *TenantRepository) ToggleActive(ctx context.Context, id uint) (*Client, error) {
	var client Client
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&client, id).Error; err != nil {
			return err
		}
		client.IsActive = !client.IsActive
		return tx.Model(&client).Update("is_active", client.IsActive).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle client status: %w", err)
	}
	return &client, nil
}

// RegenerateAPIKey replaces the tenant's API key, invalidating the old one
// immediately. Existing device and session rows are untouched.
func (r *TenantRepository) RegenerateAPIKey(ctx context.Context, id uint) (string, error) {
	newKey := GenerateAPIKey()
	res := r.db.WithContext(ctx).Model(&Client{}).Where("id = ?", id).Update("api_key", newKey)
	if res.Error != nil {
		return "", fmt.Errorf("regenerate api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return newKey, nil
}

// GenerateAPIKey produces a new tenant API key: "sk_" + 256 bits of hex.
func GenerateAPIKey() string {
	return "sk_" + randomHex(32)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// there is no sane fallback for key material.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
