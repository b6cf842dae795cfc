// Package fingerprint derives a stable device identifier from
// client-reported hardware and platform characteristics.
//
// The fingerprint deliberately excludes browser-identifying fields such as
// the user agent: two browsers on one physical machine must produce the same
// fingerprint, because session multiplicity is allowed per device, not per
// browser. The identifier is best-effort: the inputs are client-reported
// and not tamper-proof.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Length is the number of hex characters in a fingerprint.
const Length = 32

// DeviceData is the structured device characteristics payload. Every field
// is optional; absent fields degrade fingerprint quality but never cause an
// error. UserAgent and DeviceName are display-only and never hashed.
type DeviceData struct {
	Screen              string     `json:"screen,omitempty"`
	Timezone            string     `json:"timezone,omitempty"`
	Platform            string     `json:"platform,omitempty"`
	Language            string     `json:"language,omitempty"`
	HardwareConcurrency FlexString `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        FlexString `json:"deviceMemory,omitempty"`
	UserAgent           string     `json:"userAgent,omitempty"`
	DeviceName          string     `json:"deviceName,omitempty"`
}

// DefaultDeviceName is used when the payload carries no display name.
const DefaultDeviceName = "Unknown device"

// DisplayName returns the reported device name or the default.
func (d DeviceData) DisplayName() string {
	if name := strings.TrimSpace(d.DeviceName); name != "" {
		return name
	}
	return DefaultDeviceName
}

// Generate derives the fingerprint: SHA-256 over the hardware-focused fields
// joined with "|" in fixed order, truncated to 32 hex characters. Pure and
// total: identical input fields always yield the identical fingerprint.
func Generate(d DeviceData) string {
	components := []string{
		d.Screen,
		d.Timezone,
		d.Platform,
		d.Language,
		string(d.HardwareConcurrency),
		string(d.DeviceMemory),
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])[:Length]
}

// FlexString tolerates JSON strings and numbers. Userscripts report
// navigator.hardwareConcurrency as a number while older integrations send
// strings; both must hash identically.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = FlexString(num.String())
	return nil
}

// MarshalJSON implements json.Marshaler
func (s FlexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
