// config.go : receiver configuration values, defaults and checks
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/wkazubski/gnss-sdr/acquisition"
	"github.com/wkazubski/gnss-sdr/gnss"
	"github.com/wkazubski/gnss-sdr/lockdet"
	"github.com/wkazubski/gnss-sdr/tracking"
)

// EnvPrefix of the environment overrides, GNSS_TRACKING_PLL_BANDWIDTH sets
// tracking.pll_bandwidth
const EnvPrefix = "GNSS_"

type ReceiverConf struct {
	File              string  `koanf:"file" yaml:"file"`
	SampleType        string  `koanf:"sample_type" yaml:"sample_type"` // "i8" or "iq8"
	SamplingFrequency float64 `koanf:"sampling_frequency" yaml:"sampling_frequency"`
	IF                float64 `koanf:"intermediate_frequency" yaml:"intermediate_frequency"`
	Loop              bool    `koanf:"loop" yaml:"loop"`
	Hardware          bool    `koanf:"hardware" yaml:"hardware"` // correlator offload emulation
	StatusInterval    int     `koanf:"status_interval_ms" yaml:"status_interval_ms"`
}

type AcquisitionConf struct {
	Variant           string  `koanf:"variant" yaml:"variant"`
	DopplerMax        float64 `koanf:"doppler_max" yaml:"doppler_max"`
	DopplerStep       float64 `koanf:"doppler_step" yaml:"doppler_step"`
	Threshold         float64 `koanf:"threshold" yaml:"threshold"`
	MaxDwells         int     `koanf:"max_dwells" yaml:"max_dwells"`
	SampledMs         int     `koanf:"sampled_ms" yaml:"sampled_ms"`
	EarlyDecision     bool    `koanf:"early_decision" yaml:"early_decision"`
	FineDopplerWindow float64 `koanf:"fine_doppler_window" yaml:"fine_doppler_window"`
	ZeroPadding       int     `koanf:"zero_padding" yaml:"zero_padding"`
}

type TrackingConf struct {
	PLLBandwidth               float64       `koanf:"pll_bandwidth" yaml:"pll_bandwidth"`
	PLLBandwidthNarrow         float64       `koanf:"pll_bandwidth_narrow" yaml:"pll_bandwidth_narrow"`
	DLLBandwidth               float64       `koanf:"dll_bandwidth" yaml:"dll_bandwidth"`
	DLLBandwidthNarrow         float64       `koanf:"dll_bandwidth_narrow" yaml:"dll_bandwidth_narrow"`
	FLLBandwidth               float64       `koanf:"fll_bandwidth" yaml:"fll_bandwidth"`
	FLLBandwidthNarrow         float64       `koanf:"fll_bandwidth_narrow" yaml:"fll_bandwidth_narrow"`
	PLLOrder                   int           `koanf:"pll_filter_order" yaml:"pll_filter_order"`
	DLLOrder                   int           `koanf:"dll_filter_order" yaml:"dll_filter_order"`
	EarlyLateSpacing           float64       `koanf:"early_late_space" yaml:"early_late_space"`
	EarlyLateSpacingNarrow     float64       `koanf:"early_late_space_narrow" yaml:"early_late_space_narrow"`
	VeryEarlyLateSpacing       float64       `koanf:"very_early_late_space" yaml:"very_early_late_space"`
	VeryEarlyLateSpacingNarrow float64       `koanf:"very_early_late_space_narrow" yaml:"very_early_late_space_narrow"`
	ExtendCorrelationSymbols   int           `koanf:"extend_correlation_symbols" yaml:"extend_correlation_symbols"`
	EnableFLLPullIn            bool          `koanf:"enable_fll_pull_in" yaml:"enable_fll_pull_in"`
	EnableFLLSteadyState       bool          `koanf:"enable_fll_steady_state" yaml:"enable_fll_steady_state"`
	CarrierAiding              bool          `koanf:"carrier_aiding" yaml:"carrier_aiding"`
	HighDynamics               bool          `koanf:"high_dyn" yaml:"high_dyn"`
	SmootherLength             int           `koanf:"smoother_length" yaml:"smoother_length"`
	PullInTime                 float64       `koanf:"pull_in_time_s" yaml:"pull_in_time_s"`
	BitSyncTimeLimit           float64       `koanf:"bit_synchronization_time_limit_s" yaml:"bit_synchronization_time_limit_s"`
	EnableDopplerCorrection    bool          `koanf:"enable_doppler_correction" yaml:"enable_doppler_correction"`
	DopplerCorrectionWindow    int           `koanf:"doppler_correction_window" yaml:"doppler_correction_window"`
	DopplerCorrectionThreshold float64       `koanf:"doppler_correction_threshold" yaml:"doppler_correction_threshold"`
	PullInTimeout              time.Duration `koanf:"pull_in_timeout" yaml:"pull_in_timeout"`
	TrackPilot                 bool          `koanf:"track_pilot" yaml:"track_pilot"`

	CN0Samples           int     `koanf:"cn0_samples" yaml:"cn0_samples"`
	CN0Min               float64 `koanf:"cn0_min" yaml:"cn0_min"`
	CN0SmootherSamples   int     `koanf:"cn0_smoother_samples" yaml:"cn0_smoother_samples"`
	CN0SmootherAlpha     float64 `koanf:"cn0_smoother_alpha" yaml:"cn0_smoother_alpha"`
	CarrierLockThreshold float64 `koanf:"carrier_lock_th" yaml:"carrier_lock_th"`
	LockSmootherSamples  int     `koanf:"carrier_lock_test_smoother_samples" yaml:"carrier_lock_test_smoother_samples"`
	LockSmootherAlpha    float64 `koanf:"carrier_lock_test_smoother_alpha" yaml:"carrier_lock_test_smoother_alpha"`
	MaxCodeLockFail      int     `koanf:"max_code_lock_fail" yaml:"max_code_lock_fail"`
	MaxCarrierLockFail   int     `koanf:"max_carrier_lock_fail" yaml:"max_carrier_lock_fail"`
}

// ChannelConf assigns one channel per PRN of a signal
type ChannelConf struct {
	Signal string `koanf:"signal" yaml:"signal"`
	PRNs   []int  `koanf:"prns" yaml:"prns"`
}

type CodesConf struct {
	File string `koanf:"file" yaml:"file"` // hex code table
}

type DumpConf struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Prefix   string `koanf:"prefix" yaml:"prefix"`
	Compress bool   `koanf:"compress" yaml:"compress"`
}

type MetricsConf struct {
	Listen string `koanf:"listen" yaml:"listen"`
}

type MQTTConf struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	Broker      string `koanf:"broker" yaml:"broker"`
	Username    string `koanf:"username" yaml:"username"`
	Password    string `koanf:"password" yaml:"password"`
	TopicPrefix string `koanf:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `koanf:"qos" yaml:"qos"`
	Retain      bool   `koanf:"retain" yaml:"retain"`
}

// Config is the receiver configuration
type Config struct {
	Receiver    ReceiverConf    `koanf:"receiver" yaml:"receiver"`
	Acquisition AcquisitionConf `koanf:"acquisition" yaml:"acquisition"`
	Tracking    TrackingConf    `koanf:"tracking" yaml:"tracking"`
	Channels    []ChannelConf   `koanf:"channels" yaml:"channels"`
	Codes       CodesConf       `koanf:"codes" yaml:"codes"`
	Dump        DumpConf        `koanf:"dump" yaml:"dump"`
	Metrics     MetricsConf     `koanf:"metrics" yaml:"metrics"`
	MQTT        MQTTConf        `koanf:"mqtt" yaml:"mqtt"`
}

func gpsPRNs() []int {
	prns := make([]int, gnss.MaxGPSPRN)
	for i := range prns {
		prns[i] = i + 1
	}
	return prns
}

// defaults of the receiver, flat koanf keys
func defaults() map[string]any {
	fs := 2.048e6
	ao := acquisition.DefaultOptions(fs)
	to := tracking.DefaultOptions(fs)
	lo := lockdet.DefaultOptions()
	return map[string]any{
		"receiver.sample_type":        "iq8",
		"receiver.sampling_frequency": fs,
		"receiver.status_interval_ms": 200,

		"acquisition.variant":             acquisition.Standard.String(),
		"acquisition.doppler_max":         ao.DopplerMax,
		"acquisition.doppler_step":        ao.DopplerStep,
		"acquisition.threshold":           ao.Threshold,
		"acquisition.max_dwells":          ao.MaxDwells,
		"acquisition.sampled_ms":          1,
		"acquisition.fine_doppler_window": ao.FineDopplerWindowHz,
		"acquisition.zero_padding":        ao.ZeroPadding,

		"tracking.pll_bandwidth":                      to.PLLBandwidth,
		"tracking.pll_bandwidth_narrow":               to.PLLBandwidthNarrow,
		"tracking.dll_bandwidth":                      to.DLLBandwidth,
		"tracking.dll_bandwidth_narrow":               to.DLLBandwidthNarrow,
		"tracking.fll_bandwidth":                      to.FLLBandwidth,
		"tracking.fll_bandwidth_narrow":               to.FLLBandwidthNarrow,
		"tracking.pll_filter_order":                   to.PLLOrder,
		"tracking.dll_filter_order":                   to.DLLOrder,
		"tracking.early_late_space":                   to.EarlyLateSpacing,
		"tracking.early_late_space_narrow":            to.EarlyLateSpacingNarrow,
		"tracking.very_early_late_space":              to.VeryEarlyLateSpacing,
		"tracking.very_early_late_space_narrow":       to.VeryEarlyLateSpacingNarrow,
		"tracking.extend_correlation_symbols":         to.ExtendCorrelationSymbols,
		"tracking.carrier_aiding":                     to.CarrierAiding,
		"tracking.smoother_length":                    to.SmootherLength,
		"tracking.pull_in_time_s":                     to.PullInTime,
		"tracking.bit_synchronization_time_limit_s":   to.BitSyncTimeLimit,
		"tracking.doppler_correction_window":          to.DopplerCorrectionWindow,
		"tracking.doppler_correction_threshold":       to.DopplerCorrectionThreshold,
		"tracking.pull_in_timeout":                    to.PullInTimeout.String(),
		"tracking.cn0_samples":                        lo.Samples,
		"tracking.cn0_min":                            lo.CN0Min,
		"tracking.cn0_smoother_samples":               lo.CN0SmootherSamples,
		"tracking.cn0_smoother_alpha":                 lo.CN0Alpha,
		"tracking.carrier_lock_th":                    lo.CarrierLockThreshold,
		"tracking.carrier_lock_test_smoother_samples": lo.LockSmootherSamples,
		"tracking.carrier_lock_test_smoother_alpha":   lo.LockAlpha,
		"tracking.max_code_lock_fail":                 lo.MaxCodeLockFail,
		"tracking.max_carrier_lock_fail":              lo.MaxCarrierLockFail,

		"channels": []map[string]any{{"signal": string(gnss.SignalL1CA), "prns": gpsPRNs()}},

		"dump.prefix":       "track_ch",
		"mqtt.topic_prefix": "gnss",
	}
}

// Load reads the defaults, then the YAML file (if path is not empty), then
// the GNSS_ environment overrides
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	envKey := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		// section separator is the first underscore
		section, key, ok := strings.Cut(s, "_")
		if !ok {
			return s
		}
		return section + "." + key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	var errs []error
	r := c.Receiver
	if r.SamplingFrequency <= 0 || r.SamplingFrequency > 100e6 || r.IF < 0 || r.IF > 100e6 {
		errs = append(errs, errors.New("wrong sampling or intermediate frequency"))
	}
	if r.File != "" {
		if _, err := os.Stat(r.File); err != nil {
			errs = append(errs, fmt.Errorf("sample file: %w", err))
		}
	}
	if r.SampleType != "i8" && r.SampleType != "iq8" {
		errs = append(errs, fmt.Errorf("sample type %q", r.SampleType))
	}
	if _, err := acquisition.ParseVariant(c.Acquisition.Variant); err != nil {
		errs = append(errs, err)
	}
	a := c.Acquisition
	if a.DopplerStep <= 0 || a.DopplerMax < 0 {
		errs = append(errs, fmt.Errorf("doppler max %g step %g", a.DopplerMax, a.DopplerStep))
	}
	if a.MaxDwells < 1 || a.SampledMs < 1 {
		errs = append(errs, fmt.Errorf("max dwells %d sampled ms %d", a.MaxDwells, a.SampledMs))
	}
	t := c.Tracking
	if t.PLLBandwidth <= 0 || t.DLLBandwidth <= 0 || t.PLLBandwidthNarrow <= 0 || t.DLLBandwidthNarrow <= 0 {
		errs = append(errs, errors.New("loop bandwidths must be positive"))
	}
	if t.CN0Samples < 1 {
		errs = append(errs, fmt.Errorf("cn0 samples %d", t.CN0Samples))
	}
	if t.CarrierLockThreshold <= 0 || t.CarrierLockThreshold > 1 {
		errs = append(errs, fmt.Errorf("carrier lock threshold %g", t.CarrierLockThreshold))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("no channels"))
	}
	for _, ch := range c.Channels {
		for _, prn := range ch.PRNs {
			if prn < 1 || prn > max(gnss.MaxGPSPRN, gnss.MaxGALPRN) {
				errs = append(errs, fmt.Errorf("signal %s prn %d", ch.Signal, prn))
			}
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt enabled without broker"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos %d", c.MQTT.QoS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// AcquisitionOptions converts the acquisition section
func (c *Config) AcquisitionOptions() acquisition.Options {
	a := c.Acquisition
	o := acquisition.DefaultOptions(c.Receiver.SamplingFrequency)
	o.Variant, _ = acquisition.ParseVariant(a.Variant)
	o.IF = c.Receiver.IF
	o.DopplerMax = a.DopplerMax
	o.DopplerStep = a.DopplerStep
	o.Threshold = a.Threshold
	o.MaxDwells = a.MaxDwells
	o.CodesPerDwell = a.SampledMs
	o.EarlyDecision = a.EarlyDecision
	o.FineDopplerWindowHz = a.FineDopplerWindow
	if a.ZeroPadding > 0 {
		o.ZeroPadding = a.ZeroPadding
	}
	return o
}

// TrackingOptions converts the tracking section
func (c *Config) TrackingOptions() tracking.Options {
	t := c.Tracking
	o := tracking.DefaultOptions(c.Receiver.SamplingFrequency)
	o.IF = c.Receiver.IF
	o.PLLBandwidth, o.PLLBandwidthNarrow = t.PLLBandwidth, t.PLLBandwidthNarrow
	o.DLLBandwidth, o.DLLBandwidthNarrow = t.DLLBandwidth, t.DLLBandwidthNarrow
	o.FLLBandwidth, o.FLLBandwidthNarrow = t.FLLBandwidth, t.FLLBandwidthNarrow
	o.PLLOrder, o.DLLOrder = t.PLLOrder, t.DLLOrder
	o.EarlyLateSpacing, o.EarlyLateSpacingNarrow = t.EarlyLateSpacing, t.EarlyLateSpacingNarrow
	o.VeryEarlyLateSpacing, o.VeryEarlyLateSpacingNarrow = t.VeryEarlyLateSpacing, t.VeryEarlyLateSpacingNarrow
	o.ExtendCorrelationSymbols = t.ExtendCorrelationSymbols
	o.EnableFLLPullIn, o.EnableFLLSteadyState = t.EnableFLLPullIn, t.EnableFLLSteadyState
	o.CarrierAiding = t.CarrierAiding
	o.HighDynamics, o.SmootherLength = t.HighDynamics, t.SmootherLength
	o.PullInTime, o.BitSyncTimeLimit = t.PullInTime, t.BitSyncTimeLimit
	o.EnableDopplerCorrection = t.EnableDopplerCorrection
	o.DopplerCorrectionWindow, o.DopplerCorrectionThreshold = t.DopplerCorrectionWindow, t.DopplerCorrectionThreshold
	if t.PullInTimeout > 0 {
		o.PullInTimeout = t.PullInTimeout
	}
	o.Lock = lockdet.Options{
		Samples:              t.CN0Samples,
		CN0Min:               t.CN0Min,
		CarrierLockThreshold: t.CarrierLockThreshold,
		MaxCodeLockFail:      t.MaxCodeLockFail,
		MaxCarrierLockFail:   t.MaxCarrierLockFail,
		CN0Alpha:             t.CN0SmootherAlpha,
		CN0SmootherSamples:   t.CN0SmootherSamples,
		LockAlpha:            t.LockSmootherAlpha,
		LockSmootherSamples:  t.LockSmootherSamples,
	}
	return o
}

// Render returns the effective configuration as YAML
func (c *Config) Render() ([]byte, error) {
	return yamlv3.Marshal(c)
}
