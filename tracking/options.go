// options.go : tracking loop configuration
package tracking

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wkazubski/gnss-sdr/dump"
	"github.com/wkazubski/gnss-sdr/lockdet"
	"github.com/wkazubski/gnss-sdr/metrics"
)

// Options of one tracking channel. Bandwidths are noise bandwidths [Hz],
// spacings are in chips. The Narrow variants apply after symbol
// synchronization.
type Options struct {
	Fs float64 // sampling frequency [Hz]
	IF float64 // intermediate frequency [Hz]

	PLLBandwidth       float64
	PLLBandwidthNarrow float64
	DLLBandwidth       float64
	DLLBandwidthNarrow float64
	FLLBandwidth       float64
	FLLBandwidthNarrow float64
	PLLOrder           int // 2 or 3
	DLLOrder           int // 1 or 2

	EarlyLateSpacing           float64
	EarlyLateSpacingNarrow     float64
	VeryEarlyLateSpacing       float64
	VeryEarlyLateSpacingNarrow float64

	// ExtendCorrelationSymbols is the number of code periods coherently
	// integrated after synchronization (1 disables extension)
	ExtendCorrelationSymbols int

	EnableFLLPullIn      bool
	EnableFLLSteadyState bool
	CarrierAiding        bool

	// HighDynamics estimates the code and carrier phase rates from the
	// last 2*SmootherLength NCO updates
	HighDynamics   bool
	SmootherLength int

	PullInTime       float64 // lock counters frozen for this long after pull-in [s]
	BitSyncTimeLimit float64 // loss of lock when no sync within this time [s], 0 disables

	// EnableDopplerCorrection re-seeds the carrier filter once when the
	// code rate drift against the carrier Doppler, averaged over
	// DopplerCorrectionWindow narrow loop updates, exceeds
	// DopplerCorrectionThreshold [chips/s]
	EnableDopplerCorrection    bool
	DopplerCorrectionWindow    int
	DopplerCorrectionThreshold float64

	// PullInTimeout bounds the wait for the replica preparation
	PullInTimeout time.Duration

	Lock lockdet.Options

	Channel int
	Logger  *log.Logger
	Dump    *dump.Writer
	Metrics *metrics.Channel
}

// DefaultOptions returns the tracking defaults for a sampling frequency
func DefaultOptions(fs float64) Options {
	return Options{
		Fs:                         fs,
		PLLBandwidth:               35,
		PLLBandwidthNarrow:         15,
		DLLBandwidth:               2,
		DLLBandwidthNarrow:         0.5,
		FLLBandwidth:               10,
		FLLBandwidthNarrow:         2,
		PLLOrder:                   3,
		DLLOrder:                   2,
		EarlyLateSpacing:           0.5,
		EarlyLateSpacingNarrow:     0.15,
		VeryEarlyLateSpacing:       0.6,
		VeryEarlyLateSpacingNarrow: 0.5,
		ExtendCorrelationSymbols:   1,
		CarrierAiding:              true,
		SmootherLength:             10,
		PullInTime:                 2,
		BitSyncTimeLimit:           70,
		DopplerCorrectionWindow:    1000,
		DopplerCorrectionThreshold: 1,
		PullInTimeout:              2 * time.Second,
		Lock:                       lockdet.DefaultOptions(),
	}
}

func (o Options) validate(veml bool) error {
	switch {
	case o.Fs <= 0:
		return fmt.Errorf("tracking: invalid sampling frequency %g", o.Fs)
	case o.PLLOrder != 2 && o.PLLOrder != 3:
		return fmt.Errorf("tracking: pll order %d not supported", o.PLLOrder)
	case o.DLLOrder != 1 && o.DLLOrder != 2:
		return fmt.Errorf("tracking: dll order %d not supported", o.DLLOrder)
	case o.ExtendCorrelationSymbols < 1:
		return fmt.Errorf("tracking: extend correlation symbols %d < 1", o.ExtendCorrelationSymbols)
	case o.EarlyLateSpacing <= 0 || o.EarlyLateSpacingNarrow <= 0:
		return fmt.Errorf("tracking: invalid early-late spacing")
	case veml && (o.VeryEarlyLateSpacing <= o.EarlyLateSpacing ||
		o.VeryEarlyLateSpacingNarrow <= o.EarlyLateSpacingNarrow):
		return fmt.Errorf("tracking: very early-late spacing must exceed early-late spacing")
	case o.HighDynamics && o.SmootherLength < 1:
		return fmt.Errorf("tracking: smoother length %d < 1", o.SmootherLength)
	case o.EnableDopplerCorrection && o.DopplerCorrectionWindow < 1:
		return fmt.Errorf("tracking: doppler correction window %d < 1", o.DopplerCorrectionWindow)
	}
	return nil
}
