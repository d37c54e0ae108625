// profile.go : per-signal constants selected once at channel construction
package gnss

import (
	"errors"
	"fmt"
)

var ErrUnknownSignal = errors.New("gnss: unknown signal")

// SignalProfile describes one trackable signal component. It is a value
// object: copies are independent and nothing mutates it after lookup.
type SignalProfile struct {
	System        System
	Signal        SignalID
	Name          string
	CarrierFreqHz float64
	ChipRate      float64 // chips/s
	CodeLength    int     // chips
	CodePeriod    float64 // s

	// CodeSamplesPerChip is the number of local code entries per chip (2 for
	// sinBOC(1,1), 1 for BPSK).
	CodeSamplesPerChip  int
	CorrelationLengthMs int
	SymbolsPerBit       int
	VEML                bool

	// Pilot is set when the data free component is tracked. DataTable names
	// the data component code used for the extra prompt output.
	Pilot     bool
	CodeTable string
	DataTable string

	// InterchangeIQ swaps I and Q of the prompt fed to the discriminators,
	// for signals whose tracked component sits on the quadrature arm.
	InterchangeIQ bool

	// SecondaryCode is the overlay code of the tracked component, removed
	// by sign during coherent accumulation. DataSecondaryCode is the overlay
	// of the data component when the pilot is tracked. BitSyncPattern is the
	// sequence searched for bit synchronization when there is no overlay
	// code (the preamble expanded by symbols per bit).
	SecondaryCode     string
	DataSecondaryCode string
	BitSyncPattern    string

	// SecondaryTable names a per PRN secondary code table in the code book,
	// used instead of SecondaryCode when set.
	SecondaryTable  string
	SecondaryLength int

	// Disabled marks the degenerate profile returned for unknown signals.
	Disabled bool
}

// SamplesPerCode returns the number of samples in one primary code period
func (p SignalProfile) SamplesPerCode(fs float64) int {
	return Round(fs * p.CodePeriod)
}

// HasSecondary reports whether the tracked component carries an overlay code
func (p SignalProfile) HasSecondary() bool {
	return len(p.SecondaryCode) > 0 || p.SecondaryTable != ""
}

// DLLCalibration returns slope and intercept of the code autocorrelation
// at the given early/late spacing.
func (p SignalProfile) DLLCalibration(spacing float64) (slope, intercept float64) {
	return DLLCalibration(p.CodeSamplesPerChip, spacing)
}

// LocalCode returns the sub carrier modulated primary code of a PRN. When
// data is set the data component is generated instead of the tracked one.
func (p SignalProfile) LocalCode(book *CodeBook, prn int, data bool) ([]float32, error) {
	if p.Disabled {
		return nil, fmt.Errorf("%s: %w", p.Signal, ErrUnknownSignal)
	}
	table := p.CodeTable
	if data {
		table = p.DataTable
	}
	chips, err := book.Generate(table, prn, p.CodeLength)
	if err != nil {
		return nil, err
	}
	if len(chips) != p.CodeLength {
		return nil, fmt.Errorf("%s prn %d: %d chips: %w", table, prn, len(chips), ErrCodeLength)
	}
	return ModulateBOC(chips, p.CodeSamplesPerChip), nil
}

// SecondarySequence returns the synchronization sequence for a PRN
func (p SignalProfile) SecondarySequence(book *CodeBook, prn int) (string, error) {
	if p.SecondaryTable == "" {
		return p.SecondaryCode, nil
	}
	chips, err := book.Generate(p.SecondaryTable, prn, p.SecondaryLength)
	if err != nil {
		return "", err
	}
	seq := make([]byte, len(chips))
	for i, c := range chips {
		seq[i] = '0'
		if c < 0 {
			seq[i] = '1'
		}
	}
	return string(seq), nil
}

// Degenerate returns the disabled profile used after configuration errors
func Degenerate(sys System, sig SignalID) SignalProfile {
	return SignalProfile{System: sys, Signal: sig, Name: "disabled", CodeSamplesPerChip: 1, Disabled: true}
}

type profileKey struct {
	sig   SignalID
	pilot bool
}

var profiles = map[profileKey]SignalProfile{
	{SignalL1CA, false}: {
		System: GPS, Signal: SignalL1CA, Name: "L1 C/A",
		CarrierFreqHz: FreqL1, ChipRate: CRateL1CA, CodeLength: LenL1CA, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 20,
		CodeTable:      TableL1CA,
		BitSyncPattern: ExpandSymbols(PreambleL1CA, 20),
	},
	{SignalL2CM, false}: {
		System: GPS, Signal: SignalL2CM, Name: "L2C (M)",
		CarrierFreqHz: FreqL2, ChipRate: CRateL2CM, CodeLength: LenL2CM, CodePeriod: 20e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 20, SymbolsPerBit: 1,
		CodeTable: TableL2CM,
	},
	{SignalL5, false}: {
		System: GPS, Signal: SignalL5, Name: "L5I",
		CarrierFreqHz: FreqL5, ChipRate: CRateL5, CodeLength: LenL5, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 10,
		CodeTable:     TableL5I,
		SecondaryCode: SecondaryNH10,
	},
	{SignalL5, true}: {
		System: GPS, Signal: SignalL5, Name: "L5Q",
		CarrierFreqHz: FreqL5, ChipRate: CRateL5, CodeLength: LenL5, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 10,
		Pilot: true, CodeTable: TableL5Q, DataTable: TableL5I, InterchangeIQ: true,
		SecondaryCode: SecondaryNH20, DataSecondaryCode: SecondaryNH10,
	},
	{SignalE1, false}: {
		System: Galileo, Signal: SignalE1, Name: "E1B",
		CarrierFreqHz: FreqL1, ChipRate: CRateE1, CodeLength: LenE1, CodePeriod: 4e-3,
		CodeSamplesPerChip: 2, CorrelationLengthMs: 4, SymbolsPerBit: 1, VEML: true,
		CodeTable: TableE1B,
	},
	{SignalE1, true}: {
		System: Galileo, Signal: SignalE1, Name: "E1C",
		CarrierFreqHz: FreqL1, ChipRate: CRateE1, CodeLength: LenE1, CodePeriod: 4e-3,
		CodeSamplesPerChip: 2, CorrelationLengthMs: 4, SymbolsPerBit: 1, VEML: true,
		Pilot: true, CodeTable: TableE1C, DataTable: TableE1B,
		SecondaryCode: SecondaryE1C,
	},
	{SignalE5a, false}: {
		System: Galileo, Signal: SignalE5a, Name: "E5a-I",
		CarrierFreqHz: FreqL5, ChipRate: CRateE5a, CodeLength: LenE5a, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 20,
		CodeTable:     TableE5aI,
		SecondaryCode: SecondaryE5aI,
	},
	{SignalE5a, true}: {
		System: Galileo, Signal: SignalE5a, Name: "E5a-Q",
		CarrierFreqHz: FreqL5, ChipRate: CRateE5a, CodeLength: LenE5a, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 20,
		Pilot: true, CodeTable: TableE5aQ, DataTable: TableE5aI, InterchangeIQ: true,
		SecondaryTable: TableE5aQS, SecondaryLength: 100, DataSecondaryCode: SecondaryE5aI,
	},
}

// LookupProfile selects the profile of a signal. Unknown signals return the
// degenerate profile together with ErrUnknownSignal so the caller can log
// the configuration error and keep running.
func LookupProfile(sig SignalID, trackPilot bool) (SignalProfile, error) {
	if p, ok := profiles[profileKey{sig, trackPilot}]; ok {
		return p, nil
	}
	if p, ok := profiles[profileKey{sig, false}]; ok && trackPilot {
		// signal without pilot component
		return p, nil
	}
	return Degenerate(0, sig), fmt.Errorf("signal %q: %w", sig, ErrUnknownSignal)
}

// Signals lists the registered signal ids
func Signals() []SignalID {
	return []SignalID{SignalL1CA, SignalL2CM, SignalL5, SignalE1, SignalE5a}
}
