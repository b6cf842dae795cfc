package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseDevice() DeviceData {
	return DeviceData{
		Screen:              "1920x1080x24",
		Timezone:            "Asia/Tehran",
		Platform:            "Win32",
		Language:            "en-US",
		HardwareConcurrency: "8",
		DeviceMemory:        "16",
	}
}

func TestGenerateDeterministic(t *testing.T) {
	d := baseDevice()

	first := Generate(d)
	second := Generate(d)

	assert.Equal(t, first, second)
	assert.Len(t, first, Length)
	assert.Regexp(t, "^[0-9a-f]+$", first)
}

func TestGenerateIgnoresBrowserFields(t *testing.T) {
	chrome := baseDevice()
	chrome.UserAgent = "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0"
	chrome.DeviceName = "Work laptop"

	firefox := baseDevice()
	firefox.UserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:127.0) Firefox/127.0"
	firefox.DeviceName = "Something else"

	// Same hardware, different browsers: one physical device, one fingerprint.
	assert.Equal(t, Generate(chrome), Generate(firefox))
}

func TestGenerateDistinguishesHardware(t *testing.T) {
	a := baseDevice()
	b := baseDevice()
	b.Screen = "2560x1440x24"

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerateToleratesMissingFields(t *testing.T) {
	empty := DeviceData{}

	fp := Generate(empty)
	assert.Len(t, fp, Length)
	// Still deterministic for a fully empty payload.
	assert.Equal(t, fp, Generate(DeviceData{}))
}

func TestFieldOrderMatters(t *testing.T) {
	a := DeviceData{Screen: "x", Timezone: "y"}
	b := DeviceData{Screen: "y", Timezone: "x"}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Unknown device", DeviceData{}.DisplayName())
	assert.Equal(t, "Unknown device", DeviceData{DeviceName: "   "}.DisplayName())
	assert.Equal(t, "Home PC", DeviceData{DeviceName: "Home PC"}.DisplayName())
}

func TestFlexStringAcceptsNumbersAndStrings(t *testing.T) {
	var fromNumber DeviceData
	require.NoError(t, json.Unmarshal([]byte(`{"hardwareConcurrency":8,"deviceMemory":16}`), &fromNumber))

	var fromString DeviceData
	require.NoError(t, json.Unmarshal([]byte(`{"hardwareConcurrency":"8","deviceMemory":"16"}`), &fromString))

	assert.Equal(t, Generate(fromNumber), Generate(fromString))
	assert.Equal(t, FlexString("8"), fromNumber.HardwareConcurrency)
}

func TestFlexStringNull(t *testing.T) {
	var d DeviceData
	require.NoError(t, json.Unmarshal([]byte(`{"hardwareConcurrency":null}`), &d))
	assert.Equal(t, FlexString(""), d.HardwareConcurrency)
}
