// filter.go : DLL and PLL/FLL loop filters
package loops

import "fmt"

// CodeFilter is the DLL loop filter, output in chips/s
type CodeFilter struct {
	order int
	bn    float64 // noise bandwidth [Hz]
	t     float64 // update interval [s]
	w2    float64
	aw    float64

	nco    float64
	errOld float64
}

// NewCodeFilter returns a DLL filter of order 1 or 2
func NewCodeFilter(order int, bn, t float64) (*CodeFilter, error) {
	if order != 1 && order != 2 {
		return nil, fmt.Errorf("loops: unsupported DLL filter order %d", order)
	}
	f := &CodeFilter{order: order, t: t}
	f.SetNoiseBandwidth(bn)
	return f, nil
}

func (f *CodeFilter) SetNoiseBandwidth(bn float64) {
	f.bn = bn
	f.w2 = (bn / 0.53) * (bn / 0.53)
	f.aw = 1.414 * (bn / 0.53)
}

func (f *CodeFilter) SetUpdateInterval(t float64) { f.t = t }

func (f *CodeFilter) NoiseBandwidth() float64 { return f.bn }

// Initialize clears the filter state
func (f *CodeFilter) Initialize() {
	f.nco = 0
	f.errOld = 0
}

// Update with code error [chips], returns the code rate correction [chips/s]
func (f *CodeFilter) Update(codeErr float64) float64 {
	if f.order == 1 {
		return 4 * f.bn * codeErr
	}
	f.nco += f.aw*(codeErr-f.errOld) + f.w2*f.t*codeErr
	f.errOld = codeErr
	return f.nco
}

// CarrierMode selects the discriminators feeding the carrier filter
type CarrierMode int

const (
	ModeFLLAidedPLL CarrierMode = iota
	ModePLL
	ModeFLL
)

func (m CarrierMode) String() string {
	switch m {
	case ModePLL:
		return "PLL"
	case ModeFLL:
		return "FLL"
	}
	return "FLL-aided PLL"
}

// CarrierFilter is the combined FLL/PLL carrier loop filter. The phase error
// is in cycles, the frequency error in Hz, the output is the carrier Doppler
// in Hz.
type CarrierFilter struct {
	order int
	pllBw float64
	fllBw float64
	t     float64
	pllW2 float64
	pllAw float64
	fllW  float64
	w3    float64 // 3rd order coefficients
	a3w2  float64
	b3w   float64

	seed   float64
	nco    float64
	acc    float64
	errOld float64
}

// NewCarrierFilter returns a carrier filter with PLL order 2 or 3
func NewCarrierFilter(fllBw, pllBw float64, order int, t float64) (*CarrierFilter, error) {
	f := &CarrierFilter{t: t}
	if err := f.SetParams(fllBw, pllBw, order); err != nil {
		return nil, err
	}
	return f, nil
}

// SetParams sets bandwidths and PLL order, state is kept
func (f *CarrierFilter) SetParams(fllBw, pllBw float64, order int) error {
	if order != 2 && order != 3 {
		return fmt.Errorf("loops: unsupported PLL filter order %d", order)
	}
	f.order = order
	f.fllBw = fllBw
	f.pllBw = pllBw
	f.fllW = fllBw / 0.25
	if order == 2 {
		w0 := pllBw / 0.53
		f.pllW2 = w0 * w0
		f.pllAw = 1.414 * w0
		return nil
	}
	w0 := pllBw / 0.7845
	f.w3 = w0 * w0 * w0
	f.a3w2 = 1.1 * w0 * w0
	f.b3w = 2.4 * w0
	return nil
}

func (f *CarrierFilter) SetUpdateInterval(t float64) { f.t = t }

func (f *CarrierFilter) Bandwidths() (fll, pll float64) { return f.fllBw, f.pllBw }

// Initialize clears the filter state and seeds the output Doppler [Hz]
func (f *CarrierFilter) Initialize(seedHz float64) {
	f.seed = seedHz
	f.nco = 0
	f.acc = 0
	f.errOld = 0
}

// Update runs one filter step, returns the carrier Doppler [Hz]
func (f *CarrierFilter) Update(phaseErr, freqErr float64, mode CarrierMode) float64 {
	switch mode {
	case ModePLL:
		freqErr = 0
	case ModeFLL:
		phaseErr = 0
	}
	if f.order == 2 {
		f.nco += f.pllAw*(phaseErr-f.errOld) + f.pllW2*f.t*phaseErr + f.fllW*f.t*freqErr
		f.errOld = phaseErr
		return f.seed + f.nco
	}
	f.acc += f.w3 * f.t * phaseErr
	f.nco += f.t*(f.acc+f.a3w2*phaseErr) + f.fllW*f.t*freqErr
	return f.seed + f.nco + f.b3w*phaseErr
}
