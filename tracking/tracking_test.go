package tracking

import (
	"bytes"
	"io"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkazubski/gnss-sdr/gnss"
)

const fs = 2.048e6

type recorder struct{ events []gnss.Event }

func (r *recorder) Publish(ev gnss.Event) { r.events = append(r.events, ev) }

// source generates a noisy code modulated carrier by absolute sample index.
// The code runs at the Doppler codeDoppler, the carrier at doppler plus
// rate times the elapsed time.
type source struct {
	code        []float32
	prof        gnss.SignalProfile
	doppler     float64
	codeDoppler float64
	rate        float64 // Hz/s
	overlay     string
	amp         float64
	sigma       float64
	r           *rand.Rand
}

func newSource(t *testing.T, prof gnss.SignalProfile, doppler float64, overlay string, sigma float64, seed int64) *source {
	t.Helper()
	code, err := prof.LocalCode(nil, 1, false)
	require.NoError(t, err)
	return &source{
		code:        code,
		prof:        prof,
		doppler:     doppler,
		codeDoppler: doppler,
		overlay:     overlay,
		amp:         1,
		sigma:       sigma,
		r:           rand.New(rand.NewSource(seed)),
	}
}

func (s *source) block(start uint64, n int) []complex64 {
	out := make([]complex64, n)
	l := len(s.code)
	chipRate := s.prof.ChipRate * (1 + s.codeDoppler/s.prof.CarrierFreqHz)
	for j := range out {
		i := float64(start) + float64(j)
		chips := int(math.Floor(i * chipRate / fs))
		c := float64(s.code[chips%l])
		if s.overlay != "" {
			c *= gnss.ChipSign(s.overlay[(chips/l)%len(s.overlay)])
		}
		ts := i / fs
		sn, co := math.Sincos(2 * math.Pi * (s.doppler*ts + 0.5*s.rate*ts*ts))
		v := complex(s.amp*c*co, s.amp*c*sn)
		v += complex(s.sigma*s.r.NormFloat64(), s.sigma*s.r.NormFloat64())
		out[j] = complex64(v)
	}
	return out
}

func testOptions() Options {
	o := DefaultOptions(fs)
	o.PullInTime = 0.01
	o.Logger = log.New(io.Discard)
	return o
}

func newTracker(t *testing.T, prof gnss.SignalProfile, opts Options) (*Tracker, *recorder) {
	t.Helper()
	rec := &recorder{}
	trk, err := New(prof, nil, nil, opts, rec)
	require.NoError(t, err)
	require.NoError(t, trk.SetSatellite(1))
	t.Cleanup(func() { trk.Close() })
	return trk, rec
}

// pilotProfile is a pilot signal on the C/A code with a 25 chip overlay
func pilotProfile() gnss.SignalProfile {
	return gnss.SignalProfile{
		System: gnss.Galileo, Signal: "T1", Name: "test pilot",
		CarrierFreqHz: gnss.FreqL1, ChipRate: gnss.CRateL1CA, CodeLength: gnss.LenL1CA, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 1,
		Pilot: true, CodeTable: gnss.TableL1CA,
		SecondaryCode: gnss.SecondaryE1C,
	}
}

func l1ca(t *testing.T) gnss.SignalProfile {
	t.Helper()
	prof, err := gnss.LookupProfile(gnss.SignalL1CA, false)
	require.NoError(t, err)
	return prof
}

type harness struct {
	trk     *Tracker
	src     *source
	counter uint64
}

func (h *harness) step(t *testing.T) Output {
	t.Helper()
	n := h.trk.Forecast()
	out, err := h.trk.Work(h.src.block(h.counter, n), h.counter)
	require.NoError(t, err)
	h.counter += uint64(out.Consumed)
	return out
}

func TestTransition(t *testing.T) {
	for _, tc := range []struct {
		name string
		s    State
		in   inputs
		want State
		act  action
	}{
		{"idle", Idle, inputs{}, Idle, 0},
		{"handoff", Idle, inputs{started: true}, PullIn, 0},
		{"waiting", PullIn, inputs{ready: true}, PullIn, 0},
		{"aligned", PullIn, inputs{ready: true, aligned: true}, WideTrack, actInit},
		{"wide", WideTrack, inputs{}, WideTrack, 0},
		{"sync", WideTrack, inputs{synced: true}, NarrowTrack, actNarrow},
		{"sync extended", WideTrack, inputs{synced: true, extended: true}, CoherentExtend, actNarrow},
		{"wide lost", WideTrack, inputs{lockLost: true, synced: true}, UnlockRecovery, actRecover},
		{"extending", CoherentExtend, inputs{extended: true}, CoherentExtend, 0},
		{"extended", CoherentExtend, inputs{extended: true, extendDone: true}, NarrowTrack, 0},
		{"narrow", NarrowTrack, inputs{}, NarrowTrack, 0},
		{"narrow extended", NarrowTrack, inputs{extended: true}, CoherentExtend, 0},
		{"narrow lost", NarrowTrack, inputs{lockLost: true}, UnlockRecovery, actRecover},
		{"recovery", UnlockRecovery, inputs{}, PullIn, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, a := transition(tc.s, tc.in)
			assert.Equal(t, tc.want, s)
			assert.Equal(t, tc.act, a)
		})
	}
}

func TestNCOContinuity(t *testing.T) {
	const doppler = 1234.5
	codeFreq := float64(gnss.LenL1CA) * fs / 2048.25
	var c nco
	c.reset(doppler, codeFreq, fs)
	l := 2048
	total := 0
	for k := 0; k < 1000; k++ {
		next := c.update(l, doppler, 0, codeFreq, fs, gnss.LenL1CA)
		total += l
		l = next
		assert.GreaterOrEqual(t, c.remCodeSamples, -1.0)
		assert.Less(t, c.remCodeSamples, 2.0)
	}
	want := 2 * math.Pi * doppler * float64(total) / fs
	assert.InDelta(t, want, c.accCarr, 1e-6)
	assert.InDelta(t, math.Mod(want, 2*math.Pi), c.remCarr, 1e-6)
	// lengths plus remnant cover exactly the elapsed code periods
	assert.InDelta(t, 1000*2048.25, float64(total)+c.remCodeSamples, 1e-6)
}

func TestRateSmoother(t *testing.T) {
	r := newRateSmoother(3)
	var rate float64
	var ok bool
	for k := 0; k < 6; k++ {
		rate, ok = r.push(1+0.01*float64(k), 100)
		if k < 5 {
			assert.False(t, ok)
		}
	}
	require.True(t, ok)
	// mean step difference 0.03 over 300 samples
	assert.InDelta(t, 0.03/300, rate, 1e-12)
}

func TestSymbolSync(t *testing.T) {
	seq := gnss.SecondaryE1C
	s := newSymbolSync(seq)
	for k := 0; k < len(seq)+7; k++ {
		// history starts 7 symbols into the sequence
		s.push(gnss.ChipSign(seq[(k+len(seq)-7)%len(seq)]))
		if k < len(seq)-1 {
			ok, _ := s.match()
			assert.False(t, ok)
		}
	}
	ok, _ := s.match()
	assert.True(t, ok)

	s.reset()
	for k := 0; k < len(seq); k++ {
		s.push(-2 * gnss.ChipSign(seq[k]))
	}
	ok, inverted := s.match()
	assert.True(t, ok)
	assert.True(t, inverted)

	// one wrong symbol breaks synchronization
	s.reset()
	for k := 0; k < len(seq); k++ {
		v := gnss.ChipSign(seq[k])
		if k == 3 {
			v = -v
		}
		s.push(v)
	}
	ok, _ = s.match()
	assert.False(t, ok)
}

func TestDataSymbolPeriod(t *testing.T) {
	l5q, _ := gnss.LookupProfile(gnss.SignalL5, true)
	e1c, _ := gnss.LookupProfile(gnss.SignalE1, true)
	assert.Equal(t, 10, dataSymbolPeriod(l5q, 1))
	assert.Equal(t, 20, dataSymbolPeriod(l1ca(t), 4))
	assert.Equal(t, 1, dataSymbolPeriod(e1c, 1))
	assert.Equal(t, 5, dataSymbolPeriod(pilotProfile(), 5))
}

func TestPullInAlignment(t *testing.T) {
	prof := l1ca(t)
	trk, _ := newTracker(t, prof, testOptions())
	src := newSource(t, prof, 0, "", 0.1, 1)
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{
		CodeDelaySamples: 137.4, SampleStamp: 1000, Valid: true,
	}))
	assert.Equal(t, PullIn, trk.State())

	// the next code start after 5000 is 1137.4 + 2*2048
	out, err := trk.Work(src.block(5000, trk.Forecast()), 5000)
	require.NoError(t, err)
	assert.Equal(t, 233, out.Consumed)
	assert.Equal(t, PullIn, trk.State())

	out, err = trk.Work(src.block(5233, trk.Forecast()), 5233)
	require.NoError(t, err)
	assert.Equal(t, 2048, out.Consumed)
	assert.False(t, out.Emitted)
	assert.Equal(t, WideTrack, trk.State())
	assert.Equal(t, uint64(5233+2048), trk.Snapshot().SampleCounter)
}

func TestPilotExtendedIntegration(t *testing.T) {
	prof := pilotProfile()
	opts := testOptions()
	opts.ExtendCorrelationSymbols = 5
	trk, rec := newTracker(t, prof, opts)
	h := &harness{trk: trk, src: newSource(t, prof, 0, gnss.SecondaryE1C, 0.5, 2)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))

	for i := 0; i < 200 && trk.State() != CoherentExtend; i++ {
		out := h.step(t)
		assert.False(t, out.Emitted)
	}
	require.Equal(t, CoherentExtend, trk.State())
	snap := trk.Snapshot()
	assert.True(t, snap.Synced)
	assert.False(t, snap.PLL180)

	valid := 0
	for i := 0; i < 50; i++ {
		out := h.step(t)
		if !out.Emitted {
			continue
		}
		require.True(t, out.Synchro.FlagValidSymbol)
		assert.Greater(t, out.Synchro.PromptI, 5000.0)
		assert.Equal(t, 5, out.Synchro.CorrelationLengthMs)
		assert.Equal(t, h.counter, out.Synchro.TrackingSampleCount)
		valid++
	}
	assert.Equal(t, 10, valid)
	assert.Empty(t, rec.events)
}

func TestTelemetryFault(t *testing.T) {
	prof := l1ca(t)
	trk, rec := newTracker(t, prof, testOptions())
	h := &harness{trk: trk, src: newSource(t, prof, 0, "", 0.5, 3)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))
	for i := 0; i < 5; i++ {
		h.step(t)
	}
	require.Equal(t, WideTrack, trk.State())

	trk.TelemetryFault()
	out := h.step(t)
	assert.True(t, out.Emitted)
	assert.False(t, out.Synchro.FlagValidSymbol)
	assert.Equal(t, []gnss.Event{gnss.EventLossOfLock}, rec.events)
	assert.Equal(t, PullIn, trk.State())

	// no handoff, input passes through
	out, err := trk.Work(make([]complex64, 100), h.counter)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Consumed)
	assert.False(t, out.Emitted)
}

func TestDopplerPullIn(t *testing.T) {
	prof := l1ca(t)
	opts := testOptions()
	opts.EnableFLLPullIn = true
	trk, rec := newTracker(t, prof, opts)
	h := &harness{trk: trk, src: newSource(t, prof, 10, "", 0.5, 4)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))
	for i := 0; i < 1000; i++ {
		h.step(t)
	}
	snap := trk.Snapshot()
	assert.Equal(t, WideTrack, snap.State)
	assert.InDelta(t, 10, snap.DopplerHz, 2)
	assert.Greater(t, snap.CN0dBHz, 55.0)
	assert.Empty(t, rec.events)
}

func TestStop(t *testing.T) {
	prof := l1ca(t)
	trk, _ := newTracker(t, prof, testOptions())
	h := &harness{trk: trk, src: newSource(t, prof, 0, "", 0.5, 5)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))
	h.step(t)
	trk.Stop()
	out, err := trk.Work(make([]complex64, 3000), h.counter)
	require.NoError(t, err)
	assert.Equal(t, 3000, out.Consumed)
	assert.False(t, out.Emitted)
}

func TestSetSatelliteErrors(t *testing.T) {
	e1b, err := gnss.LookupProfile(gnss.SignalE1, false)
	require.NoError(t, err)
	trk, err := New(e1b, nil, nil, testOptions(), nil)
	require.NoError(t, err)
	defer trk.Close()
	// memory code without a code book
	assert.Error(t, trk.SetSatellite(11))
	assert.ErrorIs(t, trk.StartTracking(gnss.AcquisitionResult{}), ErrNoSatellite)

	_, err = New(gnss.Degenerate(gnss.GPS, "XX"), nil, nil, testOptions(), nil)
	assert.ErrorIs(t, err, gnss.ErrUnknownSignal)

	bad := testOptions()
	bad.PLLOrder = 4
	_, err = New(l1ca(t), nil, nil, bad, nil)
	assert.Error(t, err)
}

func TestCodeStartNeverBeforeCounter(t *testing.T) {
	prof := l1ca(t)
	trk, _ := newTracker(t, prof, testOptions())
	for _, acq := range []gnss.AcquisitionResult{
		{CodeDelaySamples: 0, SampleStamp: 0},
		{CodeDelaySamples: 137.4, SampleStamp: 1000, DopplerHz: 1234.5},
		{CodeDelaySamples: 2047.9, SampleStamp: 77777, DopplerHz: -3210.7},
	} {
		trk.acq = acq
		codeFreq := prof.ChipRate * (prof.CarrierFreqHz + acq.DopplerHz) / prof.CarrierFreqHz
		tprn := float64(prof.CodeLength) / codeFreq * fs
		start := float64(acq.SampleStamp) + acq.CodeDelaySamples
		for k := 1; k < 3000; k++ {
			edge := start + float64(k)*tprn
			for _, c := range []float64{math.Floor(edge), math.Ceil(edge), edge - 1} {
				counter := uint64(c)
				off, rem := trk.codeStart(counter)
				require.GreaterOrEqual(t, off, counter)
				assert.Less(t, float64(off-counter)+rem, tprn+1)
			}
		}
	}
}

func TestNarrowHandoffHoldsDoppler(t *testing.T) {
	prof := pilotProfile()
	opts := testOptions()
	opts.ExtendCorrelationSymbols = 5
	trk, rec := newTracker(t, prof, opts)
	h := &harness{trk: trk, src: newSource(t, prof, 300, gnss.SecondaryE1C, 0.5, 6)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{DopplerHz: 260, Valid: true}))

	for i := 0; i < 500 && !trk.Snapshot().Synced; i++ {
		h.step(t)
	}
	require.True(t, trk.Snapshot().Synced)

	for i := 0; i < 1500; i++ {
		h.step(t)
	}
	snap := trk.Snapshot()
	assert.True(t, snap.State.Tracked())
	assert.InDelta(t, 300, snap.DopplerHz, 2)
	assert.Greater(t, snap.CN0dBHz, 50.0)
	assert.Empty(t, rec.events)
}

func TestDopplerGuard(t *testing.T) {
	for _, tc := range []struct {
		name        string
		codeDoppler float64
		corrected   int
	}{
		{"consistent code rate", 0, 0},
		{"code drifting against carrier", 300, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prof := pilotProfile()
			opts := testOptions()
			var logs bytes.Buffer
			opts.Logger = log.New(&logs)
			opts.EnableDopplerCorrection = true
			opts.DopplerCorrectionThreshold = 0.1
			opts.DLLBandwidthNarrow = 2
			trk, _ := newTracker(t, prof, opts)
			src := newSource(t, prof, 0, gnss.SecondaryE1C, 0.5, 7)
			src.codeDoppler = tc.codeDoppler
			h := &harness{trk: trk, src: src}
			require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))

			for i := 0; i < 2500 && !trk.Snapshot().DopplerCorrected; i++ {
				h.step(t)
			}
			snap := trk.Snapshot()
			assert.Equal(t, tc.corrected == 1, snap.DopplerCorrected)
			if snap.DopplerCorrected {
				// re-seeded at the Doppler the code rate implies
				assert.True(t, snap.Synced)
				assert.InDelta(t, tc.codeDoppler, snap.DopplerHz, 60)
			}
			for i := 0; i < 1500; i++ {
				h.step(t)
			}
			assert.Equal(t, tc.corrected, strings.Count(logs.String(), "carrier doppler corrected"))
		})
	}
}

func TestHighDynamicsRamp(t *testing.T) {
	prof := l1ca(t)
	opts := testOptions()
	opts.HighDynamics = true
	opts.SmootherLength = 50
	trk, rec := newTracker(t, prof, opts)
	src := newSource(t, prof, 100, "", 0.5, 8)
	src.rate = 200
	h := &harness{trk: trk, src: src}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{DopplerHz: 100, Valid: true}))
	for i := 0; i < 1000; i++ {
		h.step(t)
	}
	snap := trk.Snapshot()
	assert.Equal(t, WideTrack, snap.State)
	elapsed := float64(h.counter) / fs
	assert.InDelta(t, 100+200*elapsed, snap.DopplerHz, 5)
	assert.InDelta(t, 200, snap.DopplerRateHz, 30)
	assert.Empty(t, rec.events)
}

func TestBitSyncTimeLimit(t *testing.T) {
	prof := l1ca(t)
	opts := testOptions()
	opts.BitSyncTimeLimit = 0.1
	trk, rec := newTracker(t, prof, opts)
	h := &harness{trk: trk, src: newSource(t, prof, 0, "", 0.5, 9)}
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))

	var out Output
	for i := 0; i < 300 && trk.State() != PullIn; i++ {
		out = h.step(t)
	}
	require.Equal(t, PullIn, trk.State())
	assert.True(t, out.Emitted)
	assert.False(t, out.Synchro.FlagValidSymbol)
	assert.Equal(t, []gnss.Event{gnss.EventLossOfLock}, rec.events)
	assert.InDelta(t, 0.1, float64(h.counter)/fs, 0.01)
}

func TestVEMLTracking(t *testing.T) {
	prof := pilotProfile()
	prof.VEML = true
	trk, rec := newTracker(t, prof, testOptions())
	require.Len(t, trk.taps, 5)
	assert.Equal(t, 2, trk.iP)
	h := &harness{trk: trk, src: newSource(t, prof, 0, gnss.SecondaryE1C, 0.5, 10)}
	// replica starts an eighth of a chip late
	require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{CodeDelaySamples: 0.25, Valid: true}))

	for i := 0; i < 300 && trk.State() != NarrowTrack; i++ {
		h.step(t)
	}
	require.Equal(t, NarrowTrack, trk.State())
	assert.Equal(t, []float64{-0.5, -0.15, 0, 0.15, 0.5}, trk.shifts)

	valid := 0
	for i := 0; i < 300; i++ {
		out := h.step(t)
		if !out.Emitted {
			continue
		}
		require.True(t, out.Synchro.FlagValidSymbol)
		assert.Greater(t, out.Synchro.PromptI, 1500.0)
		valid++
	}
	assert.Equal(t, 300, valid)
	assert.Empty(t, rec.events)
}

func TestPreambleBitSync(t *testing.T) {
	pattern := gnss.ExpandSymbols(gnss.PreambleL1CA, 20)
	inverted := strings.Map(func(r rune) rune {
		if r == '0' {
			return '1'
		}
		return '0'
	}, pattern)
	for _, tc := range []struct {
		name    string
		overlay string
		flag180 bool
	}{
		{"upright", pattern, false},
		{"inverted", inverted, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prof := l1ca(t)
			trk, rec := newTracker(t, prof, testOptions())
			h := &harness{trk: trk, src: newSource(t, prof, 0, tc.overlay, 0.5, 11)}
			require.NoError(t, trk.StartTracking(gnss.AcquisitionResult{Valid: true}))

			for i := 0; i < 400 && trk.State() != NarrowTrack; i++ {
				out := h.step(t)
				assert.False(t, out.Emitted)
			}
			require.Equal(t, NarrowTrack, trk.State())
			assert.Equal(t, tc.flag180, trk.Snapshot().PLL180)

			// bits come out upright in both cases, starting at the preamble
			var bits []float64
			for i := 0; i < 400 && len(bits) < 16; i++ {
				out := h.step(t)
				if !out.Emitted {
					continue
				}
				require.True(t, out.Synchro.FlagValidSymbol)
				assert.Equal(t, tc.flag180, out.Synchro.FlagPLL180)
				assert.Equal(t, 20, out.Synchro.CorrelationLengthMs)
				assert.Greater(t, math.Abs(out.Synchro.PromptI), 20000.0)
				bits = append(bits, math.Copysign(1, out.Synchro.PromptI))
			}
			require.Len(t, bits, 16)
			for k, b := range bits {
				assert.Equal(t, gnss.ChipSign(gnss.PreambleL1CA[k%8]), b, "bit %d", k)
			}
			assert.Empty(t, rec.events)
		})
	}
}
