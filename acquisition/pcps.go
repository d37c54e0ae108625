// pcps.go : parallel code phase search acquisition
package acquisition

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wkazubski/gnss-sdr/dsp"
	"github.com/wkazubski/gnss-sdr/gnss"
)

var (
	ErrShortBlock = errors.New("acquisition: input block shorter than a dwell")
	ErrNoCode     = errors.New("acquisition: local code not set")
)

// Quality of the last detection: peak to second peak ratio in the Doppler
// bin of the peak and the CN0 estimated from the peak to mean ratio
type Quality struct {
	PeakRatio float64
	CN0       float64 // dB-Hz
}

// PCPS is the acquisition of one channel
type PCPS struct {
	mu      sync.Mutex
	opts    Options
	profile gnss.SignalProfile
	port    gnss.EventPort
	base    *log.Logger
	log     *log.Logger

	prn            int
	samplesPerCode int
	fftSize        int
	fft            *dsp.FFT
	fine           *dsp.FFT
	grid           *DopplerGrid
	replica        []float32    // sampled local code of one dwell
	codeA, codeB   []complex128 // conjugated code transforms

	wiped []complex128
	work  []complex128
	tmp   []float64
	mag   [][]float64 // |r|^2 per bin of the last dwell
	acc   [][]float64 // non coherent sum per bin

	state     State
	active    bool
	detected  bool
	dwells    int
	peak      float64
	peakPower float64
	powerSum  float64
	result    gnss.AcquisitionResult
	quality   Quality
}

// New returns an acquisition for a signal. port receives the positive and
// negative acquisition events (may be nil).
func New(profile gnss.SignalProfile, opts Options, port gnss.EventPort) (*PCPS, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if profile.Disabled {
		return nil, fmt.Errorf("%s: %w", profile.Signal, gnss.ErrUnknownSignal)
	}
	if opts.ZeroPadding < 1 {
		opts.ZeroPadding = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	p := &PCPS{
		opts:    opts,
		profile: profile,
		port:    port,
		base:    logger.WithPrefix("acq").With("ch", opts.Channel, "signal", profile.Signal),
	}
	p.log = p.base
	p.samplesPerCode = profile.SamplesPerCode(opts.Fs)
	if p.samplesPerCode <= 0 {
		return nil, fmt.Errorf("acquisition: %s has no code period", profile.Name)
	}
	p.fftSize = p.samplesPerCode * opts.CodesPerDwell
	if opts.Variant == TwoCodes {
		p.fftSize = 2 * p.samplesPerCode
	}
	p.fft = dsp.NewFFT(p.fftSize)
	p.wiped = make([]complex128, p.fftSize)
	p.work = make([]complex128, p.fftSize)
	p.tmp = make([]float64, p.fftSize)
	if err := p.buildGrid(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PCPS) buildGrid() error {
	g, err := NewDopplerGrid(p.opts.DopplerMax, p.opts.DopplerStep, p.opts.IF, p.opts.Fs, p.fftSize)
	if err != nil {
		return err
	}
	p.grid = g
	p.mag = make([][]float64, g.Len())
	p.acc = make([][]float64, g.Len())
	for i := range p.mag {
		p.mag[i] = make([]float64, p.fftSize)
		p.acc[i] = make([]float64, p.fftSize)
	}
	return nil
}

// SetLocalCode loads the primary code table of a PRN (entries per chip as
// given by the signal profile) and computes its replica transforms
func (p *PCPS) SetLocalCode(prn int, code []float32) error {
	if len(code) == 0 {
		return ErrNoCode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ci := p.profile.ChipRate * float64(p.profile.CodeSamplesPerChip) / p.opts.Fs
	p.replica = make([]float32, p.fftSize)
	dsp.ResCode(code, 0, ci, p.fftSize, p.replica)
	p.codeA = p.fft.CodeFFT(p.replica)
	p.codeB = nil
	if p.opts.Variant == TwoCodes {
		b := make([]float32, p.fftSize)
		copy(b, p.replica)
		for i := p.samplesPerCode; i < len(b); i++ {
			b[i] = -b[i]
		}
		p.codeB = p.fft.CodeFFT(b)
	}
	p.prn = prn
	p.log = p.base.With("prn", prn)
	return nil
}

// SetDopplerMax rebuilds the grid for a new search range
func (p *PCPS) SetDopplerMax(hz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.opts.DopplerMax
	p.opts.DopplerMax = hz
	if err := p.buildGrid(); err != nil {
		p.opts.DopplerMax = old
		return err
	}
	return nil
}

// SetDopplerStep rebuilds the grid for a new bin width
func (p *PCPS) SetDopplerStep(hz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.opts.DopplerStep
	p.opts.DopplerStep = hz
	if err := p.buildGrid(); err != nil {
		p.opts.DopplerStep = old
		return err
	}
	return nil
}

func (p *PCPS) SetThreshold(th float64) {
	p.mu.Lock()
	p.opts.Threshold = th
	p.mu.Unlock()
}

// SetActive arms (or disarms) the search, it starts on the next Work call
func (p *PCPS) SetActive(on bool) {
	p.mu.Lock()
	p.active = on
	p.mu.Unlock()
}

// Start arms the search
func (p *PCPS) Start() { p.SetActive(true) }

// Reset returns to StandBy and clears the last result
func (p *PCPS) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StandBy
	p.active = false
	p.result = gnss.AcquisitionResult{}
	p.quality = Quality{}
	p.resetSearch()
}

func (p *PCPS) resetSearch() {
	p.dwells = 0
	p.peak = 0
	p.peakPower = 0
	p.powerSum = 0
	p.detected = false
	p.result = gnss.AcquisitionResult{}
	for i := range p.acc {
		clear(p.acc[i])
	}
}

// Forecast returns the number of samples needed by the next Work call
func (p *PCPS) Forecast() int { return p.fftSize }

// State returns the current search state
func (p *PCPS) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the last declared acquisition
func (p *PCPS) Result() gnss.AcquisitionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Quality returns peak ratio and CN0 of the last detection
func (p *PCPS) Quality() Quality {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quality
}

// Grid returns a copy of the search grid, one row per Doppler bin: the last
// dwell for Standard and TwoCodes, the accumulated grid for FineDoppler
func (p *PCPS) Grid() (doppler []float64, mag [][]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.mag
	if p.opts.Variant == FineDoppler {
		src = p.acc
	}
	doppler = make([]float64, p.grid.Len())
	mag = make([][]float64, p.grid.Len())
	for i, b := range p.grid.Bins {
		doppler[i] = b.DopplerHz
		mag[i] = append([]float64(nil), src[i]...)
	}
	return doppler, mag
}

// Work processes one dwell. in[0] is the sample with absolute index counter.
// It returns the number of samples consumed. Events are published after the
// search lock is released.
func (p *PCPS) Work(in []complex64, counter uint64) (int, error) {
	var events []gnss.Event
	defer func() {
		for _, ev := range events {
			p.port.Publish(ev)
		}
	}()
	p.mu.Lock()
	defer p.mu.Unlock()
	consumed := 0
	for {
		switch p.state {
		case StandBy:
			if !p.active {
				return len(in), nil
			}
			if p.codeA == nil {
				return 0, ErrNoCode
			}
			p.resetSearch()
			p.log.Debugf("start search stamp=%d threshold=%g doppler_max=%g doppler_step=%g",
				counter, p.opts.Threshold, p.opts.DopplerMax, p.opts.DopplerStep)
		case ComputeGrid:
			if consumed > 0 {
				return consumed, nil
			}
			if len(in) < p.fftSize {
				return 0, ErrShortBlock
			}
			p.computeGrid(in[:p.fftSize], counter)
			consumed = p.fftSize
		case Decide:
			p.decide()
		case Refine:
			p.refine(in[:p.fftSize])
		case PositiveAcq:
			events = p.declare(true, events)
		case NegativeAcq:
			events = p.declare(false, events)
		}
		next := transition(p.state, inputs{
			active:    p.active,
			detected:  p.detected,
			dwells:    p.dwells,
			maxDwells: p.opts.MaxDwells,
			early:     p.opts.EarlyDecision || p.opts.Variant == TwoCodes,
			refine:    p.opts.Variant == FineDoppler,
		})
		if next == StandBy && p.state != StandBy {
			p.state = next
			return consumed, nil
		}
		p.state = next
	}
}

// computeGrid correlates one dwell against every Doppler bin
func (p *PCPS) computeGrid(block []complex64, counter uint64) {
	power := dsp.Power(block)
	p.powerSum += power
	p.dwells++
	for b, bin := range p.grid.Bins {
		dsp.Wipe(p.wiped, block, bin.Wipeoff)
		row := p.mag[b]
		p.fft.Pcorrelator(p.wiped, p.codeA, p.work, row)
		if p.codeB != nil {
			p.fft.Pcorrelator(p.wiped, p.codeB, p.work, p.tmp)
			for i, v := range p.tmp {
				if v > row[i] {
					row[i] = v
				}
			}
		}
		if p.opts.Variant == FineDoppler {
			dsp.AddTo(p.acc[b], row)
			continue
		}
		if m, i := dsp.MaxVD(row, -1, -1); m > p.peak {
			p.peak = m
			p.peakPower = power
			p.record(row, i, bin.DopplerHz, counter)
		}
	}
	if p.opts.Variant == FineDoppler {
		// the delay refers to the most recent block
		p.peak, p.peakPower = 0, p.powerSum/float64(p.dwells)
		for b, bin := range p.grid.Bins {
			if m, i := dsp.MaxVD(p.acc[b], -1, -1); m > p.peak {
				p.peak = m
				p.record(p.acc[b], i, bin.DopplerHz, counter)
			}
		}
	}
	p.log.Debugf("dwell %d stamp=%d peak=%.3e power=%.3e", p.dwells, counter, p.peak, power)
}

func (p *PCPS) record(row []float64, ind int, doppler float64, counter uint64) {
	p.result.CodeDelaySamples = float64(ind % p.samplesPerCode)
	p.result.DopplerHz = doppler
	p.result.SampleStamp = counter
	p.quality = p.checkPeak(row, ind)
}

// checkPeak computes the peak ratio and CN0 around the peak of a grid row
func (p *PCPS) checkPeak(row []float64, ind int) Quality {
	n := len(row)
	spchip := int(math.Ceil(p.opts.Fs / p.profile.ChipRate))
	exinds := ind - 2*spchip
	if exinds < 0 {
		exinds += n
	}
	exinde := ind + 2*spchip
	if exinde >= n {
		exinde -= n
	}
	var q Quality
	maxP := row[ind]
	if max2, _ := dsp.MaxVD(row, exinds, exinde); max2 > 0 {
		q.PeakRatio = maxP / max2
	}
	if mean := dsp.MeanVD(row, exinds, exinde); mean > 0 {
		q.CN0 = 10 * math.Log10(maxP/mean/p.profile.CodePeriod)
	}
	return q
}

func (p *PCPS) decide() {
	stat := 0.0
	if p.peakPower > 0 {
		stat = p.peak / p.peakPower
		if p.opts.Variant == FineDoppler {
			stat /= math.Sqrt(float64(p.dwells))
		}
	}
	p.result.TestStatistic = stat
	p.detected = stat > p.opts.Threshold
}

// refine estimates the Doppler from the spectrum of the code wiped block
func (p *PCPS) refine(block []complex64) {
	m := p.fftSize * p.opts.ZeroPadding
	if p.fine == nil || p.fine.Len() != m {
		p.fine = dsp.NewFFT(m)
	}
	code := dsp.Rotate(p.replica, int(p.result.CodeDelaySamples))
	x := make([]complex128, m)
	for i, v := range block {
		x[i] = complex128(v) * complex(float64(code[i]), 0)
	}
	X := p.fine.Forward(nil, x)
	spec := make([]float64, m)
	for i, v := range X {
		spec[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	_, k := dsp.MaxVD(spec, -1, -1)
	f := float64(k) * p.opts.Fs / float64(m)
	if k >= m/2 {
		f -= p.opts.Fs
	}
	f -= p.opts.IF
	if math.Abs(f-p.result.DopplerHz) < p.opts.FineDopplerWindowHz {
		p.log.Debugf("fine doppler %.1f Hz (grid %.1f Hz)", f, p.result.DopplerHz)
		p.result.DopplerHz = f
		return
	}
	p.log.Debugf("fine doppler %.1f Hz rejected, grid %.1f Hz kept", f, p.result.DopplerHz)
}

func (p *PCPS) declare(positive bool, events []gnss.Event) []gnss.Event {
	p.active = false
	p.result.Valid = positive
	ev := gnss.EventNegativeAcq
	if positive {
		ev = gnss.EventPositiveAcq
		p.log.Info("positive acquisition", "stamp", p.result.SampleStamp,
			"delay", p.result.CodeDelaySamples, "doppler", p.result.DopplerHz,
			"statistic", p.result.TestStatistic, "peak_ratio", p.quality.PeakRatio)
	} else {
		p.log.Debug("negative acquisition", "statistic", p.result.TestStatistic)
	}
	if p.port == nil {
		return events
	}
	return append(events, ev)
}
