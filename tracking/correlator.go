// correlator.go : correlator abstraction of the tracking loop
package tracking

import (
	"fmt"

	"github.com/wkazubski/gnss-sdr/dsp"
)

// Correlator computes the tap correlations of one block. The software
// implementation reads the samples from in, a hardware implementation
// reads n samples from its own buffer starting at the absolute index start.
type Correlator interface {
	// SetLocalCode loads the tracked code and the data code of the pilot
	// data prompt (nil if none), both in local code entries
	SetLocalCode(code, data []float32) error
	// SetShifts sets the tap offsets in local code entries, negative early
	SetShifts(shifts []float64) error
	Correlate(in []complex64, start uint64, n int, nco dsp.NCO, out []complex64, data *complex64) error
	Close() error
}

// Software correlates on the host with dsp.Multicorrelator
type Software struct {
	mc *dsp.Multicorrelator
}

// NewSoftware returns a software correlator for blocks of up to maxSamples
func NewSoftware(maxSamples int) (*Software, error) {
	mc, err := dsp.NewMulticorrelator(maxSamples)
	if err != nil {
		return nil, err
	}
	return &Software{mc: mc}, nil
}

func (s *Software) SetLocalCode(code, data []float32) error {
	if err := s.mc.SetLocalCode(code); err != nil {
		return err
	}
	return s.mc.SetDataCode(data)
}

func (s *Software) SetShifts(shifts []float64) error {
	s.mc.SetShifts(shifts)
	return nil
}

func (s *Software) Correlate(in []complex64, _ uint64, n int, nco dsp.NCO, out []complex64, data *complex64) error {
	if len(in) < n {
		return fmt.Errorf("tracking: %d samples for a block of %d: %w", len(in), n, ErrShortBlock)
	}
	s.mc.Correlate(in[:n], nco, out, data)
	return nil
}

func (s *Software) Close() error { return s.mc.Close() }
