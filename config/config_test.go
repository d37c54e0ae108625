package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkazubski/gnss-sdr/acquisition"
	"github.com/wkazubski/gnss-sdr/tracking"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 2.048e6, c.Receiver.SamplingFrequency)
	assert.Equal(t, "iq8", c.Receiver.SampleType)
	require.Len(t, c.Channels, 1)
	assert.Equal(t, "1C", c.Channels[0].Signal)
	assert.Len(t, c.Channels[0].PRNs, 32)

	assert.Equal(t, tracking.DefaultOptions(2.048e6), c.TrackingOptions())
	assert.Equal(t, acquisition.DefaultOptions(2.048e6), c.AcquisitionOptions())
}

const sample = `
receiver:
  sampling_frequency: 4e6
  intermediate_frequency: 1.25e6
acquisition:
  variant: fine_doppler
  max_dwells: 4
  threshold: 0.02
tracking:
  pll_bandwidth: 20
  extend_correlation_symbols: 10
  pull_in_timeout: 500ms
  max_carrier_lock_fail: 100
channels:
  - signal: 1B
    prns: [11, 12]
  - signal: 5X
    prns: [19]
mqtt:
  enabled: true
  broker: tcp://localhost:1883
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "receiver.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadFile(t *testing.T) {
	c, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	ao := c.AcquisitionOptions()
	assert.Equal(t, acquisition.FineDoppler, ao.Variant)
	assert.Equal(t, 4, ao.MaxDwells)
	assert.Equal(t, 4e6, ao.Fs)
	assert.Equal(t, 1.25e6, ao.IF)
	assert.Equal(t, 0.02, ao.Threshold)
	// untouched keys keep the defaults
	assert.Equal(t, 500.0, ao.DopplerStep)

	to := c.TrackingOptions()
	assert.Equal(t, 20.0, to.PLLBandwidth)
	assert.Equal(t, 15.0, to.PLLBandwidthNarrow)
	assert.Equal(t, 10, to.ExtendCorrelationSymbols)
	assert.Equal(t, 500*time.Millisecond, to.PullInTimeout)
	assert.Equal(t, 100, to.Lock.MaxCarrierLockFail)
	assert.Equal(t, 1.25e6, to.IF)

	require.Len(t, c.Channels, 2)
	assert.Equal(t, []int{11, 12}, c.Channels[0].PRNs)
	assert.Equal(t, "5X", c.Channels[1].Signal)
	assert.True(t, c.MQTT.Enabled)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GNSS_TRACKING_DLL_BANDWIDTH", "3.5")
	t.Setenv("GNSS_MQTT_TOPIC_PREFIX", "lab")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3.5, c.Tracking.DLLBandwidth)
	assert.Equal(t, "lab", c.MQTT.TopicPrefix)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(c *Config)
	}{
		{"sampling frequency", func(c *Config) { c.Receiver.SamplingFrequency = 0 }},
		{"missing file", func(c *Config) { c.Receiver.File = "/nonexistent/file.bin" }},
		{"sample type", func(c *Config) { c.Receiver.SampleType = "f32" }},
		{"variant", func(c *Config) { c.Acquisition.Variant = "magic" }},
		{"doppler step", func(c *Config) { c.Acquisition.DopplerStep = 0 }},
		{"bandwidth", func(c *Config) { c.Tracking.PLLBandwidth = -1 }},
		{"lock threshold", func(c *Config) { c.Tracking.CarrierLockThreshold = 2 }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"prn", func(c *Config) { c.Channels[0].PRNs = []int{0} }},
		{"mqtt", func(c *Config) { c.MQTT.Enabled = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load("")
			require.NoError(t, err)
			tc.mod(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Load(writeFile(t, "receiver: [1, 2"))
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	c, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	out, err := c.Render()
	require.NoError(t, err)

	// the rendered file loads back to the same configuration
	back, err := Load(writeFile(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
