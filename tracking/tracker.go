// tracker.go : DLL/PLL tracking loop of one channel
package tracking

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/stat"

	"github.com/wkazubski/gnss-sdr/dump"
	"github.com/wkazubski/gnss-sdr/gnss"
	"github.com/wkazubski/gnss-sdr/lockdet"
	"github.com/wkazubski/gnss-sdr/loops"
	"github.com/wkazubski/gnss-sdr/metrics"
)

var (
	ErrShortBlock    = errors.New("tracking: input shorter than the block")
	ErrPullInTimeout = errors.New("tracking: pull-in timeout")
	ErrNoSatellite   = errors.New("tracking: no satellite assigned")
)

// Output of one Work call
type Output struct {
	Consumed int
	Synchro  gnss.Synchro
	Emitted  bool
}

// Snapshot is a copy of the loop state
type Snapshot struct {
	State            State
	PRN              int
	DopplerHz        float64
	DopplerRateHz    float64 // Hz/s, zero unless high dynamics is set
	CodeFreqHz       float64
	CN0dBHz          float64
	LockTest         float64
	Synced           bool
	PLL180           bool
	Transitory       bool
	DopplerCorrected bool
	SampleCounter    uint64
	AccCarrierRad    float64
}

type replicas struct {
	prn       int
	code      []float32
	data      []float32
	secondary string
	err       error
}

// handoff is the single use rendezvous between StartTracking and the
// replica preparation
type handoff struct {
	acq      gnss.AcquisitionResult
	done     chan replicas
	deadline time.Time
}

// Tracker runs the code and carrier loops of one channel. All methods are
// safe for concurrent use, Work holds the channel mutex for a whole cycle.
type Tracker struct {
	mu      sync.Mutex
	stopped atomic.Bool

	opts    Options
	profile gnss.SignalProfile
	book    *gnss.CodeBook
	corr    Correlator
	port    gnss.EventPort
	base    *log.Logger
	log     *log.Logger
	lock    *lockdet.Estimator
	pll     *loops.CarrierFilter
	dll     *loops.CodeFilter
	dump    *dump.Writer
	metrics *metrics.Channel
	events  []gnss.Event

	prn     int
	state   State
	rep     *replicas
	pending *handoff
	acq     gnss.AcquisitionResult
	ready   bool
	hasData bool

	samplesPerCode int
	fc             float64
	shifts         []float64
	iVE, iE, iP    int
	iL, iVL        int
	taps           []complex64
	accu           []complex128
	dataRaw        complex64
	dataAccu       complex128
	spacing        float64
	slope          float64
	intercept      float64

	nco      nco
	blockLen int
	counter  uint64 // absolute index of the next block

	doppler    float64
	codeFreq   float64
	carrErr    float64 // cycles
	freqErr    float64 // Hz
	codeErr    float64 // chips
	codeFilt   float64 // chips/s
	prevPrompt complex128
	havePrev   bool
	corrTime   float64
	extend     int
	extendN    int

	sync          *symbolSync
	secondary     string
	overlay       bool
	dataSecondary string
	dataPeriod    int
	synced        bool
	flag180       bool
	curSymbol     int
	curData       int

	transitory  bool
	pullInStamp uint64
	faulted     bool

	dllHist   []float64
	corrected bool
}

// New returns a tracker for a signal. corr may be nil for the software
// correlator, book may be nil for signals with generated codes. port
// receives LOSS_OF_LOCK (may be nil).
func New(profile gnss.SignalProfile, book *gnss.CodeBook, corr Correlator, opts Options, port gnss.EventPort) (*Tracker, error) {
	if profile.Disabled {
		return nil, fmt.Errorf("tracking %s: %w", profile.Signal, gnss.ErrUnknownSignal)
	}
	if err := opts.validate(profile.VEML); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	t := &Tracker{
		opts:           opts,
		profile:        profile,
		book:           book,
		port:           port,
		dump:           opts.Dump,
		metrics:        opts.Metrics,
		samplesPerCode: profile.SamplesPerCode(opts.Fs),
		fc:             profile.CarrierFreqHz,
		corrTime:       profile.CodePeriod,
		extend:         1,
	}
	t.base = opts.Logger.WithPrefix("trk").With("ch", opts.Channel, "signal", profile.Signal)
	t.log = t.base

	if corr == nil {
		sw, err := NewSoftware(2*t.samplesPerCode + 16)
		if err != nil {
			return nil, err
		}
		corr = sw
	}
	t.corr = corr

	lo := opts.Lock
	if ms := gnss.Round(profile.CodePeriod * 1e3); ms > 1 {
		lo.CN0SmootherSamples = max(1, lo.CN0SmootherSamples/ms)
	}
	t.lock = lockdet.New(lo, gnss.EventFunc(func(ev gnss.Event) { t.events = append(t.events, ev) }), t.base)

	var err error
	if t.pll, err = loops.NewCarrierFilter(opts.FLLBandwidth, opts.PLLBandwidth, opts.PLLOrder, t.corrTime); err != nil {
		return nil, err
	}
	if t.dll, err = loops.NewCodeFilter(opts.DLLOrder, opts.DLLBandwidth, t.corrTime); err != nil {
		return nil, err
	}
	if profile.VEML {
		t.iVE, t.iE, t.iP, t.iL, t.iVL = 0, 1, 2, 3, 4
	} else {
		t.iVE, t.iE, t.iP, t.iL, t.iVL = -1, 0, 1, 2, -1
	}
	if err := t.setLoopParams(false); err != nil {
		return nil, err
	}
	t.taps = make([]complex64, len(t.shifts))
	t.accu = make([]complex128, len(t.shifts))
	if opts.HighDynamics {
		t.nco.carrHist = newRateSmoother(opts.SmootherLength)
		t.nco.codeHist = newRateSmoother(opts.SmootherLength)
	}
	t.dataPeriod = dataSymbolPeriod(profile, opts.ExtendCorrelationSymbols)
	t.sync = newSymbolSync("")
	return t, nil
}

// setLoopParams selects the wide or narrow bandwidths and spacings
func (t *Tracker) setLoopParams(narrow bool) error {
	o := t.opts
	fll, pll, dll := o.FLLBandwidth, o.PLLBandwidth, o.DLLBandwidth
	e, ve := o.EarlyLateSpacing, o.VeryEarlyLateSpacing
	if narrow {
		fll, pll, dll = o.FLLBandwidthNarrow, o.PLLBandwidthNarrow, o.DLLBandwidthNarrow
		e, ve = o.EarlyLateSpacingNarrow, o.VeryEarlyLateSpacingNarrow
	}
	if err := t.pll.SetParams(fll, pll, o.PLLOrder); err != nil {
		return err
	}
	t.pll.SetUpdateInterval(t.corrTime)
	t.dll.SetNoiseBandwidth(dll)
	t.dll.SetUpdateInterval(t.corrTime)

	t.spacing = e
	t.slope, t.intercept = t.profile.DLLCalibration(e)
	spc := float64(t.profile.CodeSamplesPerChip)
	if t.profile.VEML {
		t.shifts = []float64{-ve * spc, -e * spc, 0, e * spc, ve * spc}
	} else {
		t.shifts = []float64{-e * spc, 0, e * spc}
	}
	return t.corr.SetShifts(t.shifts)
}

// prepare generates the replicas of a PRN, it touches no tracker state
func (t *Tracker) prepare(prn int) replicas {
	r := replicas{prn: prn}
	if r.code, r.err = t.profile.LocalCode(t.book, prn, false); r.err != nil {
		return r
	}
	if t.profile.Pilot && t.profile.DataTable != "" {
		if r.data, r.err = t.profile.LocalCode(t.book, prn, true); r.err != nil {
			return r
		}
	}
	if t.profile.HasSecondary() {
		r.secondary, r.err = t.profile.SecondarySequence(t.book, prn)
	}
	return r
}

// SetChannel sets the channel number used in logs and records
func (t *Tracker) SetChannel(ch int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts.Channel = ch
	t.base = t.opts.Logger.WithPrefix("trk").With("ch", ch, "signal", t.profile.Signal)
	t.log = t.base
	if t.prn != 0 {
		t.log = t.base.With("prn", t.prn)
	}
}

// SetSatellite assigns a PRN, regenerates its replicas and returns the
// tracker to Idle
func (t *Tracker) SetSatellite(prn int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.prepare(prn)
	if rep.err != nil {
		t.log.Error("local code", "prn", prn, "err", rep.err)
		return rep.err
	}
	t.prn = prn
	t.rep = &rep
	t.log = t.base.With("prn", prn)
	t.pending = nil
	t.ready = false
	t.setState(Idle)
	t.metrics.Assign(prn)
	return nil
}

// StartTracking hands an acquisition result over. Replicas are prepared
// asynchronously, the next Work call waits for them up to PullInTimeout.
func (t *Tracker) StartTracking(acq gnss.AcquisitionResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.prn == 0 {
		return ErrNoSatellite
	}
	t.stopped.Store(false)
	h := &handoff{
		acq:      acq,
		done:     make(chan replicas, 1),
		deadline: time.Now().Add(t.opts.PullInTimeout),
	}
	t.pending = h
	t.ready = false
	prn, cached := t.prn, t.rep
	go func() {
		if cached != nil && cached.prn == prn {
			h.done <- *cached
			return
		}
		h.done <- t.prepare(prn)
	}()
	next, _ := transition(Idle, inputs{started: true})
	t.setState(next)
	t.log.Info("start tracking", "doppler", acq.DopplerHz, "delay", acq.CodeDelaySamples, "stamp", acq.SampleStamp)
	return nil
}

// Stop makes Work pass its input through without output until the next
// StartTracking
func (t *Tracker) Stop() {
	t.stopped.Store(true)
}

// TelemetryFault forces a loss of lock on the next lock evaluation
func (t *Tracker) TelemetryFault() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Tracked() {
		return
	}
	t.log.Info("telemetry fault")
	t.lock.Force()
	t.faulted = true
}

// State returns the current loop state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Forecast returns the number of samples the next Work call needs
func (t *Tracker) Forecast() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Tracked() {
		return t.blockLen
	}
	return t.samplesPerCode + 2
}

// Snapshot returns a copy of the loop state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs := t.opts.Fs
	return Snapshot{
		State:            t.state,
		PRN:              t.prn,
		DopplerHz:        t.doppler,
		DopplerRateHz:    t.nco.carrRate * fs * fs / (2 * math.Pi),
		CodeFreqHz:       t.codeFreq,
		CN0dBHz:          t.lock.CN0(),
		LockTest:         t.lock.LockTest(),
		Synced:           t.synced,
		PLL180:           t.flag180,
		Transitory:       t.transitory,
		DopplerCorrected: t.corrected,
		SampleCounter:    t.counter,
		AccCarrierRad:    t.nco.accCarr,
	}
}

// Close releases the correlator
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.corr.Close()
}

// Work processes input starting at the absolute sample index counter
func (t *Tracker) Work(in []complex64, counter uint64) (Output, error) {
	if t.stopped.Load() {
		return Output{Consumed: len(in)}, nil
	}
	t.mu.Lock()
	defer func() {
		evs := t.events
		t.events = nil
		t.mu.Unlock()
		if t.port != nil {
			for _, ev := range evs {
				t.port.Publish(ev)
			}
		}
	}()
	switch t.state {
	case Idle:
		return Output{Consumed: len(in)}, nil
	case PullIn:
		return t.pullIn(in, counter)
	}
	return t.cycle(in, counter)
}

// pullIn waits for the replicas, skips to the first code start after the
// acquisition stamp and starts the loops there
func (t *Tracker) pullIn(in []complex64, counter uint64) (Output, error) {
	if !t.ready {
		if t.pending == nil {
			// lock lost, awaiting a new handoff
			return Output{Consumed: len(in)}, nil
		}
		h := t.pending
		if err := t.await(h); err != nil {
			return Output{Consumed: len(in)}, err
		}
		if t.pending != h || !t.ready {
			return Output{}, nil
		}
		t.pending = nil
	}

	offset, rem := t.codeStart(counter)
	next, act := transition(PullIn, inputs{ready: t.ready, aligned: offset == counter})
	if act&actInit == 0 {
		var skip uint64
		if offset > counter {
			skip = min(offset-counter, uint64(len(in)))
		}
		return Output{Consumed: int(skip)}, nil
	}
	t.initLoops(counter, rem)
	t.setState(next)
	if len(in) < t.blockLen {
		return Output{}, nil
	}
	return t.cycle(in, counter)
}

// await releases the channel mutex while waiting on the rendezvous
func (t *Tracker) await(h *handoff) error {
	timer := time.NewTimer(time.Until(h.deadline))
	defer timer.Stop()
	t.mu.Unlock()
	var rep replicas
	timeout := false
	select {
	case rep = <-h.done:
	case <-timer.C:
		timeout = true
	}
	t.mu.Lock()
	if t.pending != h {
		// superseded while waiting
		return nil
	}
	switch {
	case timeout:
		t.pending = nil
		t.setState(Idle)
		t.events = append(t.events, gnss.EventLossOfLock)
		t.metrics.LossOfLock()
		t.log.Warn("pull-in timeout", "timeout", t.opts.PullInTimeout)
		return ErrPullInTimeout
	case rep.err != nil:
		t.pending = nil
		t.setState(Idle)
		t.log.Error("replica preparation", "err", rep.err)
		return rep.err
	}
	if err := t.install(rep); err != nil {
		t.pending = nil
		t.setState(Idle)
		return err
	}
	t.acq = h.acq
	t.ready = true
	return nil
}

// install loads the replicas into the correlator
func (t *Tracker) install(rep replicas) error {
	if err := t.corr.SetLocalCode(rep.code, rep.data); err != nil {
		return err
	}
	t.hasData = rep.data != nil
	t.secondary, t.overlay = "", false
	seq := ""
	switch {
	case t.profile.HasSecondary():
		t.secondary, t.overlay = rep.secondary, true
		seq = rep.secondary
	case t.profile.SymbolsPerBit > 1:
		seq = t.profile.BitSyncPattern
	}
	t.sync = newSymbolSync(seq)
	t.dataSecondary = ""
	if t.profile.Pilot {
		t.dataSecondary = t.profile.DataSecondaryCode
	}
	return nil
}

// codeStart returns the absolute index of the first code period start at
// or after counter and the fractional sample position of that start. The
// returned index is never below counter.
func (t *Tracker) codeStart(counter uint64) (uint64, float64) {
	codeFreq := t.profile.ChipRate * (t.fc + t.acq.DopplerHz) / t.fc
	tprn := float64(t.profile.CodeLength) / codeFreq * t.opts.Fs
	start := float64(t.acq.SampleStamp) + t.acq.CodeDelaySamples
	if c := float64(counter); c > start {
		start += math.Ceil((c-start)/tprn) * tprn
		// rounding can leave the start a fraction of a sample early
		start = max(start, c)
	}
	i := math.Floor(start)
	return uint64(i), start - i
}

// initLoops seeds loops and NCO from the acquisition result
func (t *Tracker) initLoops(counter uint64, rem float64) {
	fs := t.opts.Fs
	t.doppler = t.acq.DopplerHz
	t.codeFreq = t.profile.ChipRate * (t.fc + t.doppler) / t.fc
	t.nco.reset(t.opts.IF+t.doppler, t.codeFreq, fs)
	t.nco.remCodeSamples = rem
	t.nco.remCodeChips = rem * t.codeFreq / fs
	t.blockLen = int(math.Floor(float64(t.profile.CodeLength)/t.codeFreq*fs + rem))
	t.counter = counter

	t.corrTime = t.profile.CodePeriod
	t.extend = 1
	t.extendN = 0
	if err := t.setLoopParams(false); err != nil {
		t.log.Error("loop parameters", "err", err)
	}
	t.pll.Initialize(t.doppler)
	t.dll.Initialize()
	t.carrErr, t.freqErr, t.codeErr, t.codeFilt = 0, 0, 0, 0
	t.havePrev = false

	t.lock.Reset()
	t.lock.SetTransitory(true)
	t.transitory = true
	t.pullInStamp = counter
	t.faulted = false

	t.sync.reset()
	t.synced, t.flag180 = false, false
	t.curSymbol, t.curData = 0, 0
	t.clearAccu()
	t.dataAccu = 0
	t.dllHist = t.dllHist[:0]
	t.corrected = false
	t.log.Info("pull-in", "offset", counter, "doppler", t.doppler, "code_freq", t.codeFreq)
}

// cycle correlates one block and runs the state of the loop
func (t *Tracker) cycle(in []complex64, counter uint64) (Output, error) {
	n := t.blockLen
	if len(in) < n {
		return Output{}, fmt.Errorf("tracking: %d samples for a block of %d: %w", len(in), n, ErrShortBlock)
	}
	var data *complex64
	if t.hasData {
		data = &t.dataRaw
	}
	if err := t.corr.Correlate(in, counter, n, t.nco.params(t.profile.CodeSamplesPerChip), t.taps, data); err != nil {
		return Output{}, err
	}
	t.accumulate()

	if t.transitory && float64(counter-t.pullInStamp)/t.opts.Fs > t.opts.PullInTime {
		t.transitory = false
		t.lock.SetTransitory(false)
		t.lock.ResetCounters()
		t.log.Debug("pull-in transitory finished")
	}

	in2 := inputs{extended: t.extend > 1}
	switch t.state {
	case WideTrack:
		p := t.accu[t.iP]
		if in2.lockLost = !t.checkLock(); in2.lockLost {
			break
		}
		t.runLoops()
		t.clearAccu()
		t.sync.push(real(p))
		in2.synced = t.trySync()
		if !in2.synced && t.opts.BitSyncTimeLimit > 0 &&
			float64(counter-t.pullInStamp)/t.opts.Fs > t.opts.BitSyncTimeLimit {
			t.log.Info("bit synchronization time limit reached")
			t.lock.Force()
			t.faulted = true
		}
	case CoherentExtend:
		if t.faulted {
			in2.lockLost = !t.checkLock()
			break
		}
		t.extendN++
		in2.extendDone = t.extendN >= t.extend-1
	case NarrowTrack:
		if in2.lockLost = !t.checkLock(); in2.lockLost {
			break
		}
		t.runLoops()
		t.dopplerGuard()
		t.clearAccu()
		t.extendN = 0
	}

	t.blockLen = t.nco.update(n, t.opts.IF+t.doppler, t.opts.IF, t.codeFreq, t.opts.Fs, t.profile.CodeLength)
	t.counter = counter + uint64(n)

	out := Output{Consumed: n}
	if t.synced && !in2.lockLost {
		if t.overlay {
			t.curSymbol = (t.curSymbol + 1) % len(t.secondary)
		}
		t.curData = (t.curData + 1) % t.dataPeriod
		if t.curData == 0 {
			out.Synchro, out.Emitted = t.synchro(true), true
			t.dataAccu = 0
			t.metrics.Observable()
		}
	}
	t.record(counter, n)

	next, act := transition(t.state, in2)
	switch {
	case act&actNarrow != 0:
		t.enterNarrow()
	case act&actRecover != 0:
		out.Synchro, out.Emitted = t.synchro(false), true
		t.recover()
		next, _ = transition(next, inputs{})
	}
	t.setState(next)
	return out, nil
}

// accumulate adds the taps of the block, removing the overlay code and the
// 180 degree ambiguity by sign
func (t *Tracker) accumulate() {
	s := 1.0
	if t.synced && t.overlay {
		s = gnss.ChipSign(t.secondary[t.curSymbol])
	}
	pol := s
	if t.flag180 {
		pol = -s
	}
	for k, v := range t.taps {
		t.accu[k] += complex(pol, 0) * complex128(v)
	}
	d := complex128(t.taps[t.iP]) * complex(pol, 0)
	if t.hasData {
		d = complex128(t.dataRaw)
		if t.flag180 {
			d = -d
		}
	}
	if t.synced && t.dataSecondary != "" {
		d *= complex(gnss.ChipSign(t.dataSecondary[t.curData]), 0)
	}
	t.dataAccu += d
}

func (t *Tracker) clearAccu() {
	clear(t.accu)
}

// checkLock evaluates the accumulated prompt, false on loss of lock
func (t *Tracker) checkLock() bool {
	ok := t.lock.Evaluate(t.accu[t.iP], t.corrTime)
	t.metrics.Lock(t.lock.CN0(), t.lock.LockTest())
	return ok
}

// runLoops updates carrier Doppler and code frequency from the
// accumulated taps
func (t *Tracker) runLoops() {
	p, e, l := t.accu[t.iP], t.accu[t.iE], t.accu[t.iL]

	var phase float64
	if t.synced && t.profile.Pilot {
		phase = loops.FourQuadrant(p)
	} else {
		phase = loops.Costas(p)
	}
	t.carrErr = phase / (2 * math.Pi)
	mode := loops.ModePLL
	t.freqErr = 0
	fll := t.opts.EnableFLLPullIn && !t.synced || t.opts.EnableFLLSteadyState && t.synced
	if fll && t.havePrev {
		t.freqErr = loops.FLLDiffAtan(t.prevPrompt, p, 0, t.corrTime) / (2 * math.Pi)
		mode = loops.ModeFLLAidedPLL
	}
	t.prevPrompt, t.havePrev = p, true
	t.doppler = t.pll.Update(t.carrErr, t.freqErr, mode)

	if t.profile.VEML {
		t.codeErr = loops.DLLVEML(t.accu[t.iVE], e, l, t.accu[t.iVL], t.spacing, t.slope, t.intercept)
	} else {
		t.codeErr = loops.DLLEarlyLate(e, l, t.spacing, t.slope, t.intercept)
	}
	t.codeFilt = t.dll.Update(t.codeErr)
	t.setCodeFreq()
}

func (t *Tracker) setCodeFreq() {
	t.codeFreq = t.profile.ChipRate - t.codeFilt
	if t.opts.CarrierAiding {
		t.codeFreq += t.doppler * t.profile.ChipRate / t.fc
	}
}

// codeDrift returns the code rate the code loop applies against the rate
// the carrier Doppler implies [chips/s]. Zero when code and carrier agree.
func (t *Tracker) codeDrift() float64 {
	if t.opts.CarrierAiding {
		return t.codeFilt
	}
	return t.codeFilt + t.doppler*t.profile.ChipRate/t.fc
}

// dopplerGuard re-seeds the carrier filter once per tracking run when the
// code loop keeps drifting against the carrier Doppler in narrow tracking
func (t *Tracker) dopplerGuard() {
	if !t.opts.EnableDopplerCorrection || t.corrected || t.transitory || !t.synced {
		return
	}
	t.dllHist = append(t.dllHist, t.codeDrift())
	if len(t.dllHist) < t.opts.DopplerCorrectionWindow {
		return
	}
	avg := stat.Mean(t.dllHist, nil)
	t.dllHist = t.dllHist[:0]
	if math.Abs(avg) <= t.opts.DopplerCorrectionThreshold {
		return
	}
	bias := t.fc * avg / t.profile.ChipRate
	t.doppler -= bias
	t.pll.Initialize(t.doppler)
	t.setCodeFreq()
	t.corrected = true
	t.log.Info("carrier doppler corrected", "bias_hz", bias, "doppler", t.doppler)
}

// trySync searches the in-phase history for the synchronization sequence
func (t *Tracker) trySync() bool {
	if t.transitory {
		return false
	}
	if len(t.sync.seq) == 0 {
		return true
	}
	ok, inverted := t.sync.match()
	if ok {
		t.flag180 = inverted
	}
	return ok
}

// enterNarrow switches to the synchronized loop configuration
func (t *Tracker) enterNarrow() {
	t.synced = true
	t.curSymbol, t.curData = 0, 0
	t.extend = t.opts.ExtendCorrelationSymbols
	t.extendN = 0
	t.corrTime = float64(t.extend) * t.profile.CodePeriod
	t.clearAccu()
	t.dataAccu = 0
	t.havePrev = false
	t.dllHist = t.dllHist[:0]
	if t.extend > 1 {
		t.lock.Restart()
	}
	if err := t.setLoopParams(true); err != nil {
		t.log.Error("loop parameters", "err", err)
	}
	// the wide loop integrator does not carry over to the narrow loop
	t.pll.Initialize(t.doppler)
	t.log.Info("symbol synchronization", "pll180", t.flag180, "extend", t.extend,
		"cn0", math.Round(t.lock.CN0()*10)/10)
}

// recover clears the loop after a loss of lock, a new handoff is needed
func (t *Tracker) recover() {
	t.clearAccu()
	t.dataAccu = 0
	t.ready = false
	t.pending = nil
	t.synced = false
	t.faulted = false
	t.transitory = false
	t.metrics.LossOfLock()
}

func (t *Tracker) synchro(valid bool) gnss.Synchro {
	pi, pq := real(t.dataAccu), imag(t.dataAccu)
	if t.profile.InterchangeIQ {
		pi, pq = pq, pi
	}
	return gnss.Synchro{
		System:              t.profile.System,
		Signal:              t.profile.Signal,
		PRN:                 t.prn,
		Channel:             t.opts.Channel,
		Fs:                  t.opts.Fs,
		PromptI:             pi,
		PromptQ:             pq,
		CodePhaseSamples:    t.nco.remCodeSamples,
		CarrierPhaseRads:    t.nco.accCarr,
		CarrierDopplerHz:    t.doppler,
		CN0dBHz:             t.lock.CN0(),
		CorrelationLengthMs: gnss.Round(t.profile.CodePeriod * 1e3 * float64(t.dataPeriod)),
		TrackingSampleCount: t.counter,
		FlagValidSymbol:     valid,
		FlagPLL180:          t.flag180,
	}
}

// record writes the dump record of a cycle, a write error disables dumping
func (t *Tracker) record(counter uint64, n int) {
	if t.dump == nil {
		return
	}
	abs := func(i int) float32 {
		if i < 0 {
			return 0
		}
		return float32(cmplx.Abs(complex128(t.taps[i])))
	}
	fs := t.opts.Fs
	p := t.taps[t.iP]
	r := dump.Record{
		AbsVE:                 abs(t.iVE),
		AbsE:                  abs(t.iE),
		AbsP:                  abs(t.iP),
		AbsL:                  abs(t.iL),
		AbsVL:                 abs(t.iVL),
		PromptI:               real(p),
		PromptQ:               imag(p),
		SampleCounter:         counter,
		AccCarrierPhaseRad:    float32(t.nco.accCarr),
		CarrierDopplerHz:      float32(t.doppler),
		CarrierDopplerRateHzs: float32(t.nco.carrRate * fs * fs / (2 * math.Pi)),
		CodeFreqChips:         float32(t.codeFreq),
		CodeFreqRateChips:     float32(t.nco.codeRate * fs * fs),
		CarrierErrorHz:        float32(t.carrErr),
		CarrierErrorFiltHz:    float32(t.doppler - t.acq.DopplerHz),
		CodeErrorChips:        float32(t.codeErr),
		CodeErrorFiltChips:    float32(t.codeFilt),
		CN0dBHz:               float32(t.lock.CN0()),
		CarrierLockTest:       float32(t.lock.LockTest()),
		RemCodePhaseSamples:   float32(t.nco.remCodeSamples),
		CorrelationSamples:    float64(n),
		PRN:                   uint32(t.prn),
	}
	if err := t.dump.Write(r); err != nil {
		t.log.Warn("dump disabled", "err", err)
		t.dump = nil
	}
}

func (t *Tracker) setState(s State) {
	if s == t.state {
		return
	}
	t.log.Debug("state", "from", t.state, "to", s)
	t.state = s
	t.metrics.State(int(s))
}
