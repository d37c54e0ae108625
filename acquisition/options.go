// options.go : acquisition configuration
package acquisition

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// Variant selects the search algorithm, resolved once at construction
type Variant int

const (
	// Standard keeps the running maximum across dwells
	Standard Variant = iota
	// FineDoppler accumulates the grid non coherently and refines the
	// Doppler with a zero padded FFT after detection
	FineDoppler
	// TwoCodes correlates two code periods against two replica hypotheses,
	// the second with an inverted second half
	TwoCodes
)

func (v Variant) String() string {
	switch v {
	case FineDoppler:
		return "fine_doppler"
	case TwoCodes:
		return "two_codes"
	}
	return "standard"
}

// ParseVariant maps a configuration name to a variant
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "", "standard", "pcps":
		return Standard, nil
	case "fine_doppler", "finedoppler":
		return FineDoppler, nil
	case "two_codes", "twocodes", "8ms":
		return TwoCodes, nil
	}
	return Standard, fmt.Errorf("acquisition: unknown variant %q", s)
}

// Options of the acquisition
type Options struct {
	Variant     Variant
	Fs          float64 // sampling frequency [Hz]
	IF          float64 // intermediate frequency [Hz]
	DopplerMax  float64 // [Hz]
	DopplerStep float64 // [Hz]
	Threshold   float64
	MaxDwells   int

	// CodesPerDwell is the number of code periods per dwell for the
	// Standard and FineDoppler variants
	CodesPerDwell int

	// EarlyDecision compares the statistic after every dwell (Standard)
	EarlyDecision bool

	// FineDopplerWindowHz bounds the accepted refinement around the grid
	// estimate, ZeroPadding is the refinement FFT padding factor
	FineDopplerWindowHz float64
	ZeroPadding         int

	Channel int
	Logger  *log.Logger
}

// DefaultOptions returns the acquisition defaults for a sampling frequency
func DefaultOptions(fs float64) Options {
	return Options{
		Fs:                  fs,
		DopplerMax:          5000,
		DopplerStep:         500,
		Threshold:           0.008,
		MaxDwells:           1,
		CodesPerDwell:       1,
		FineDopplerWindowHz: 1000,
		ZeroPadding:         16,
	}
}

func (o Options) validate() error {
	if o.Fs <= 0 {
		return fmt.Errorf("acquisition: invalid sampling frequency %g", o.Fs)
	}
	if o.MaxDwells < 1 {
		return fmt.Errorf("acquisition: max dwells %d < 1", o.MaxDwells)
	}
	if o.CodesPerDwell < 1 {
		return fmt.Errorf("acquisition: codes per dwell %d < 1", o.CodesPerDwell)
	}
	return nil
}
