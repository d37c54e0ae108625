package channel

import (
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkazubski/gnss-sdr/acquisition"
	"github.com/wkazubski/gnss-sdr/dump"
	"github.com/wkazubski/gnss-sdr/gnss"
	"github.com/wkazubski/gnss-sdr/metrics"
	"github.com/wkazubski/gnss-sdr/tracking"
)

const fs = 2.048e6

type recorder struct{ events []gnss.Event }

func (r *recorder) Publish(ev gnss.Event) { r.events = append(r.events, ev) }

type sinkRecorder struct{ obs []gnss.Synchro }

func (s *sinkRecorder) Observable(o gnss.Synchro) { s.obs = append(s.obs, o) }

// pilot signal on the C/A code with a 25 chip overlay
func pilotProfile() gnss.SignalProfile {
	return gnss.SignalProfile{
		System: gnss.Galileo, Signal: "T1", Name: "test pilot",
		CarrierFreqHz: gnss.FreqL1, ChipRate: gnss.CRateL1CA, CodeLength: gnss.LenL1CA, CodePeriod: 1e-3,
		CodeSamplesPerChip: 1, CorrelationLengthMs: 1, SymbolsPerBit: 1,
		Pilot: true, CodeTable: gnss.TableL1CA,
		SecondaryCode: gnss.SecondaryE1C,
	}
}

// generator of a delayed code with overlay, carrier and noise
type generator struct {
	code    []float32
	overlay string
	delay   float64
	doppler float64
	amp     float64
	sigma   float64
	r       *rand.Rand
}

func newGenerator(t *testing.T, prof gnss.SignalProfile, amp float64, seed int64) *generator {
	t.Helper()
	code, err := prof.LocalCode(nil, 1, false)
	require.NoError(t, err)
	return &generator{code: code, overlay: prof.SecondaryCode, delay: 137, doppler: 500, amp: amp, sigma: 0.2, r: rand.New(rand.NewSource(seed))}
}

func (g *generator) block(start uint64, n int) []complex64 {
	out := make([]complex64, n)
	l := len(g.code)
	for j := range out {
		i := float64(start) + float64(j)
		chips := int(math.Floor((i - g.delay) * gnss.CRateL1CA / fs))
		c := float64(g.code[(chips%l+l)%l])
		if g.overlay != "" {
			period := int(math.Floor(float64(chips) / float64(l)))
			m := len(g.overlay)
			c *= gnss.ChipSign(g.overlay[(period%m+m)%m])
		}
		s, co := math.Sincos(2 * math.Pi * g.doppler * i / fs)
		v := complex(g.amp*c*co, g.amp*c*s)
		v += complex(g.sigma*g.r.NormFloat64(), g.sigma*g.r.NormFloat64())
		out[j] = complex64(v)
	}
	return out
}

func testOptions(id int) Options {
	ao := acquisition.DefaultOptions(fs)
	ao.Threshold = 0.05
	to := tracking.DefaultOptions(fs)
	to.PullInTime = 0.01
	return Options{
		ID:          id,
		Acquisition: ao,
		Tracking:    to,
		Logger:      log.New(io.Discard),
	}
}

type harness struct {
	ch      *Channel
	gen     *generator
	counter uint64
}

func (h *harness) run(t *testing.T, calls int) {
	t.Helper()
	for k := 0; k < calls; k++ {
		in := h.gen.block(h.counter, h.ch.Forecast())
		n, err := h.ch.Work(in)
		require.NoError(t, err)
		h.counter += uint64(n)
	}
}

func TestAcquireAndTrack(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recorder{}
	sink := &sinkRecorder{}
	opts := testOptions(3)
	opts.Events = rec
	opts.Sink = sink
	opts.Metrics = metrics.New(reg)
	opts.DumpPrefix = filepath.Join(t.TempDir(), "trk_ch")

	ch, err := New(pilotProfile(), opts)
	require.NoError(t, err)
	require.NoError(t, ch.Assign(1))
	require.NoError(t, ch.Start())
	assert.Equal(t, Acquiring, ch.Status().Mode)

	h := &harness{ch: ch, gen: newGenerator(t, pilotProfile(), 1, 11)}
	h.run(t, 1)
	require.Equal(t, []gnss.Event{gnss.EventPositiveAcq}, rec.events)
	assert.Equal(t, Tracking, ch.Status().Mode)
	assert.Equal(t, h.counter, ch.Counter())

	h.run(t, 300)
	st := ch.Status()
	assert.Equal(t, Tracking, st.Mode)
	assert.Equal(t, tracking.NarrowTrack, st.Tracking.State)
	assert.Equal(t, 1, st.PRN)
	assert.Equal(t, 1, st.Attempts)
	assert.InDelta(t, 500, st.Tracking.DopplerHz, 5)

	require.Greater(t, len(sink.obs), 150)
	assert.EqualValues(t, len(sink.obs), st.Observables)
	for _, o := range sink.obs {
		assert.Equal(t, 3, o.Channel)
		assert.Equal(t, 1, o.PRN)
		assert.True(t, o.FlagValidSymbol)
	}
	for _, name := range []string{"gnss_tracking_observables_total", "gnss_acquisition_attempts_total", "gnss_channel_prn"} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}

	require.NoError(t, ch.Close())
	fi, err := os.Stat(dump.PathFor(opts.DumpPrefix, 3, false))
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
	assert.Zero(t, fi.Size()%int64(dump.RecordSize))
}

func TestLossOfLockReacquires(t *testing.T) {
	rec := &recorder{}
	sink := &sinkRecorder{}
	opts := testOptions(0)
	opts.Events = rec
	opts.Sink = sink
	ch, err := New(pilotProfile(), opts)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Assign(1))
	require.NoError(t, ch.Start())

	h := &harness{ch: ch, gen: newGenerator(t, pilotProfile(), 1, 12)}
	h.run(t, 100)
	require.Equal(t, tracking.NarrowTrack, ch.Status().Tracking.State)

	ch.TelemetryFault()
	for k := 0; k < 20 && ch.Status().Mode == Tracking; k++ {
		h.run(t, 1)
	}
	assert.Equal(t, Acquiring, ch.Status().Mode)
	assert.Contains(t, rec.events, gnss.EventLossOfLock)
	require.NotEmpty(t, sink.obs)
	assert.False(t, sink.obs[len(sink.obs)-1].FlagValidSymbol)

	// the signal is still there
	h.run(t, 1)
	assert.Equal(t, gnss.EventPositiveAcq, rec.events[len(rec.events)-1])
	assert.Equal(t, Tracking, ch.Status().Mode)
	assert.Equal(t, 2, ch.Status().Attempts)
}

func TestNegativeAcquisitionRetries(t *testing.T) {
	rec := &recorder{}
	opts := testOptions(1)
	opts.Events = rec
	ch, err := New(pilotProfile(), opts)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Assign(1))
	require.NoError(t, ch.Start())

	h := &harness{ch: ch, gen: newGenerator(t, pilotProfile(), 0, 13)}
	h.run(t, 3)
	assert.Equal(t, []gnss.Event{gnss.EventNegativeAcq, gnss.EventNegativeAcq, gnss.EventNegativeAcq}, rec.events)
	st := ch.Status()
	assert.Equal(t, Acquiring, st.Mode)
	assert.Equal(t, 3, st.Attempts)
	assert.False(t, st.Tracking.Synced)
}

func TestStop(t *testing.T) {
	rec := &recorder{}
	opts := testOptions(2)
	opts.Events = rec
	ch, err := New(pilotProfile(), opts)
	require.NoError(t, err)
	defer ch.Close()

	assert.ErrorIs(t, ch.Start(), tracking.ErrNoSatellite)
	require.NoError(t, ch.Assign(1))
	require.NoError(t, ch.Start())
	ch.Stop()
	assert.Equal(t, []gnss.Event{gnss.EventStop}, rec.events)
	assert.Equal(t, Idle, ch.Status().Mode)

	n, err := ch.Work(make([]complex64, 500))
	require.NoError(t, err)
	assert.Equal(t, 500, n)
	assert.EqualValues(t, 500, ch.Counter())
}

func TestDisabledSignal(t *testing.T) {
	_, err := New(gnss.Degenerate(gnss.GPS, "XX"), testOptions(0))
	assert.ErrorIs(t, err, gnss.ErrUnknownSignal)
}
