package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription status values. A subscription is usable only while status is
// active AND end_date lies in the future.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
	StatusSuspended = "suspended"
)

// Client is a tenant of the platform: the owner of subscriptions, devices
// and sessions. The API key is the sole tenant-authentication anchor for the
// public verification API.
type Client struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:255;not null" json:"name"`
	Email     string `gorm:"size:255;not null" json:"email"`
	Company   string `gorm:"size:255" json:"company,omitempty"`
	Phone     string `gorm:"size:64" json:"phone,omitempty"`
	APIKey    string `gorm:"column:api_key;size:96;uniqueIndex;not null" json:"api_key"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName maps Client to the legacy table name
func (Client) TableName() string { return "clients" }

// SubscriptionPlan is an admin-managed product definition. MaxDevices is a
// default ceiling, overridable per subscription.
type SubscriptionPlan struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	Description  string         `json:"description,omitempty"`
	Price        float64        `gorm:"not null" json:"price"`
	DurationDays int            `gorm:"not null" json:"duration_days"`
	Features     datatypes.JSON `json:"features,omitempty"`
	MaxDevices   *int           `json:"max_devices,omitempty"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName maps SubscriptionPlan to the legacy table name
func (SubscriptionPlan) TableName() string { return "subscription_plans" }

// Subscription binds one client to one plan under a shareable code.
// MaxDevices, when set, overrides the plan default.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ClientID         uint       `gorm:"index;not null" json:"client_id"`
	PlanID           uint       `gorm:"not null" json:"plan_id"`
	SubscriptionCode string     `gorm:"size:64;uniqueIndex;not null" json:"subscription_code"`
	Status           string     `gorm:"size:32;default:active" json:"status"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	MaxDevices       *int       `json:"max_devices,omitempty"`
	AutoRenew        bool       `gorm:"default:false" json:"auto_renew"`
	PaymentAmount    *float64   `json:"payment_amount,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Client Client           `gorm:"foreignKey:ClientID" json:"-"`
	Plan   SubscriptionPlan `gorm:"foreignKey:PlanID" json:"-"`
}

// TableName maps Subscription to the legacy table name
func (Subscription) TableName() string { return "subscriptions" }

// IsExpired reports whether the subscription window has closed at the given
// instant. An end date exactly equal to now counts as expired.
func (s *Subscription) IsExpired(now time.Time) bool {
	return !s.EndDate.After(now)
}

// IsValid reports whether the subscription is usable at the given instant.
func (s *Subscription) IsValid(now time.Time) bool {
	return s.Status == StatusActive && !s.IsExpired(now)
}

// ClientDevice is one physical device sighted for a tenant, keyed by the
// (client_id, device_fingerprint) pair. BrowserInfo keeps the raw reported
// payload for admin display; it never feeds back into the fingerprint.
type ClientDevice struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	ClientID          uint           `gorm:"uniqueIndex:idx_client_fingerprint;not null" json:"client_id"`
	DeviceFingerprint string         `gorm:"size:64;uniqueIndex:idx_client_fingerprint;not null" json:"device_fingerprint"`
	DeviceName        string         `gorm:"size:255" json:"device_name"`
	BrowserInfo       datatypes.JSON `json:"browser_info,omitempty"`
	IPAddress         string         `gorm:"size:64" json:"ip_address"`
	IsActive          bool           `gorm:"default:true" json:"is_active"`
	FirstSeen         time.Time      `gorm:"autoCreateTime" json:"first_seen"`
	LastSeen          time.Time      `json:"last_seen"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName maps ClientDevice to the legacy table name
func (ClientDevice) TableName() string { return "client_devices" }

// ActiveSession is an ephemeral credential binding a verified device to a
// subscription. Fixed TTL from creation; LastActivity is touched on each
// successful validation but does not slide the expiry.
type ActiveSession struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ClientID          uint      `gorm:"index;not null" json:"client_id"`
	DeviceFingerprint string    `gorm:"size:64;index;not null" json:"device_fingerprint"`
	SessionToken      string    `gorm:"size:128;uniqueIndex;not null" json:"session_token"`
	SubscriptionCode  string    `gorm:"size:64" json:"subscription_code"`
	IPAddress         string    `gorm:"size:64" json:"ip_address"`
	UserAgent         string    `gorm:"size:512" json:"user_agent"`
	ExpiresAt         time.Time `gorm:"index;not null" json:"expires_at"`
	LastActivity      time.Time `json:"last_activity"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName maps ActiveSession to the legacy table name
func (ActiveSession) TableName() string { return "active_sessions" }

// SubscriptionUsageLog is an append-only audit record of one verification
// API call. A side effect of the protocol, never a control dependency.
type SubscriptionUsageLog struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	SubscriptionID *uint          `gorm:"index" json:"subscription_id,omitempty"`
	ClientID       uint           `gorm:"index;not null" json:"client_id"`
	APIEndpoint    string         `gorm:"column:api_endpoint;size:128" json:"api_endpoint"`
	IPAddress      string         `gorm:"size:64" json:"ip_address"`
	UserAgent      string         `gorm:"size:512" json:"user_agent"`
	RequestData    datatypes.JSON `json:"request_data,omitempty"`
	ResponseStatus int            `json:"response_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName maps SubscriptionUsageLog to the legacy table name
func (SubscriptionUsageLog) TableName() string { return "subscription_usage_logs" }
