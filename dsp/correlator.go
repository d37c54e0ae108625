// correlator.go : carrier wipeoff + code resampling multi-tap correlator
package dsp

import (
	"fmt"
	"math"
)

// anchor period of the carrier rotator, the phasor is recomputed exactly
// every rotAnchor samples to bound the drift
const rotAnchor = 256

// NCO holds the carrier and code replica parameters of one block. Carrier
// values are in rad and rad/sample, code values in local code entries
// (chips times code samples per chip) per sample.
type NCO struct {
	RemCarrPhase  float64
	CarrPhaseStep float64
	CarrPhaseRate float64
	RemCodePhase  float64
	CodePhaseStep float64
	CodePhaseRate float64
}

// Multicorrelator correlates a sample block against a local code at a set
// of tap offsets, with an optional extra prompt on a second (data) code.
type Multicorrelator struct {
	code   *Buffer[float32]
	data   *Buffer[float32]
	shifts []float64
	wiped  *Buffer[complex64]
}

func NewMulticorrelator(maxSamples int) (*Multicorrelator, error) {
	w, err := NewBuffer[complex64](maxSamples)
	if err != nil {
		return nil, err
	}
	return &Multicorrelator{wiped: w}, nil
}

// SetLocalCode loads the tracked component code table
func (m *Multicorrelator) SetLocalCode(code []float32) error {
	b, err := m.load(m.code, code)
	if err != nil {
		return err
	}
	m.code = b
	return nil
}

// SetDataCode loads the data component code table, nil disables the extra
// prompt output.
func (m *Multicorrelator) SetDataCode(code []float32) error {
	if code == nil {
		m.data.Close()
		m.data = nil
		return nil
	}
	b, err := m.load(m.data, code)
	if err != nil {
		return err
	}
	m.data = b
	return nil
}

func (m *Multicorrelator) load(old *Buffer[float32], code []float32) (*Buffer[float32], error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("dsp: empty local code")
	}
	if old == nil || old.Len() != len(code) {
		old.Close()
		b, err := NewBuffer[float32](len(code))
		if err != nil {
			return nil, err
		}
		old = b
	}
	copy(old.Data, code)
	return old, nil
}

// SetShifts sets the tap offsets (local code entries, negative = early)
func (m *Multicorrelator) SetShifts(shifts []float64) {
	m.shifts = append(m.shifts[:0], shifts...)
}

// Taps returns the number of configured taps
func (m *Multicorrelator) Taps() int { return len(m.shifts) }

// Correlate in with the configured taps. out receives one value per tap,
// dataOut (if not nil and a data code is loaded) the data prompt.
func (m *Multicorrelator) Correlate(in []complex64, nco NCO, out []complex64, dataOut *complex64) {
	n := len(in)
	if m.code == nil {
		panic("dsp: correlate without local code")
	}
	if n > m.wiped.Len() {
		panic(fmt.Sprintf("dsp: block of %d samples exceeds correlator capacity %d", n, m.wiped.Len()))
	}
	if len(out) < len(m.shifts) {
		panic("dsp: correlator output too short")
	}

	// carrier wipeoff with quadratic phase
	w := m.wiped.Data[:n]
	var rot, step complex128
	s, c := math.Sincos(nco.CarrPhaseRate)
	rate := complex(c, -s)
	for i := 0; i < n; i++ {
		if i%rotAnchor == 0 {
			fi := float64(i)
			ph := nco.RemCarrPhase + nco.CarrPhaseStep*fi + 0.5*nco.CarrPhaseRate*fi*fi
			s, c := math.Sincos(ph)
			rot = complex(c, -s)
			s, c = math.Sincos(nco.CarrPhaseStep + nco.CarrPhaseRate*(fi+0.5))
			step = complex(c, -s)
		}
		w[i] = complex64(complex128(in[i]) * rot)
		rot *= step
		step *= rate
	}

	for k, sh := range m.shifts {
		out[k] = complex64(dot(w, m.code.Data, nco, sh))
	}
	if dataOut != nil && m.data != nil {
		*dataOut = complex64(dot(w, m.data.Data, nco, 0))
	}
}

func dot(w []complex64, code []float32, nco NCO, shift float64) complex128 {
	l := float64(len(code))
	var acc complex128
	for i, v := range w {
		fi := float64(i)
		ph := shift + nco.CodePhaseStep*fi + 0.5*nco.CodePhaseRate*fi*fi - nco.RemCodePhase
		ph -= math.Floor(ph/l) * l
		idx := int(ph)
		if idx >= len(code) {
			idx -= len(code)
		}
		acc += complex128(v) * complex(float64(code[idx]), 0)
	}
	return acc
}

// Close releases the correlator buffers
func (m *Multicorrelator) Close() error {
	m.code.Close()
	m.data.Close()
	return m.wiped.Close()
}
