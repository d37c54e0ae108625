// nco.go : carrier and code NCO bookkeeping between blocks
package tracking

import (
	"math"

	"github.com/wkazubski/gnss-sdr/dsp"
)

// nco is the replica state carried from one block to the next. Carrier
// values are in rad, code values in chips, both per sample.
type nco struct {
	remCarr  float64
	carrStep float64
	carrRate float64
	accCarr  float64 // accumulated Doppler phase [rad]

	remCodeSamples float64
	remCodeChips   float64
	codeStep       float64
	codeRate       float64

	carrHist *rateSmoother
	codeHist *rateSmoother
}

// params returns the correlator parameters, code values scaled to local
// code entries
func (c *nco) params(spc int) dsp.NCO {
	s := float64(spc)
	return dsp.NCO{
		RemCarrPhase:  c.remCarr,
		CarrPhaseStep: c.carrStep,
		CarrPhaseRate: c.carrRate,
		RemCodePhase:  c.remCodeChips * s,
		CodePhaseStep: c.codeStep * s,
		CodePhaseRate: c.codeRate * s,
	}
}

// reset the phases and steps for a new pull-in
func (c *nco) reset(carrFreq, codeFreq, fs float64) {
	c.remCarr, c.accCarr, c.carrRate = 0, 0, 0
	c.remCodeSamples, c.remCodeChips, c.codeRate = 0, 0, 0
	c.carrStep = 2 * math.Pi * carrFreq / fs
	c.codeStep = codeFreq / fs
	if c.carrHist != nil {
		c.carrHist.reset()
		c.codeHist.reset()
	}
}

// update advances the replica by the n samples of the block just
// correlated and returns the length of the next block. ifFreq is excluded
// from the accumulated phase.
func (c *nco) update(n int, carrFreq, ifFreq, codeFreq, fs float64, codeLength int) int {
	c.carrStep = 2 * math.Pi * carrFreq / fs
	c.codeStep = codeFreq / fs
	if c.carrHist != nil {
		if r, ok := c.carrHist.push(c.carrStep, n); ok {
			c.carrRate = r
		}
		if r, ok := c.codeHist.push(c.codeStep, n); ok {
			c.codeRate = r
		}
	}

	fn := float64(n)
	dphi := c.carrStep*fn + 0.5*c.carrRate*fn*fn
	c.remCarr = math.Mod(c.remCarr+dphi, 2*math.Pi)
	c.accCarr += dphi - 2*math.Pi*ifFreq/fs*fn

	k := float64(codeLength)/codeFreq*fs + c.remCodeSamples
	next := int(math.Floor(k))
	c.remCodeSamples = k - fn
	c.remCodeChips = codeFreq * c.remCodeSamples / fs
	return next
}

// rateSmoother estimates a phase rate from the difference between the mean
// step of the newest and the oldest half of the last 2*n updates
type rateSmoother struct {
	n       int
	steps   []float64
	samples []float64
	head    int
	count   int
}

func newRateSmoother(n int) *rateSmoother {
	return &rateSmoother{n: n, steps: make([]float64, 2*n), samples: make([]float64, 2*n)}
}

func (r *rateSmoother) reset() {
	r.head, r.count = 0, 0
}

// push one (step, block length) pair, returns the rate once the history
// is full
func (r *rateSmoother) push(step float64, samples int) (float64, bool) {
	l := len(r.steps)
	r.steps[r.head] = step
	r.samples[r.head] = float64(samples)
	r.head = (r.head + 1) % l
	if r.count < l {
		r.count++
	}
	if r.count < l {
		return 0, false
	}
	var oldest, newest, ns float64
	for k := 0; k < r.n; k++ {
		oldest += r.steps[(r.head+k)%l]
		i := (r.head + l - 1 - k) % l
		newest += r.steps[i]
		ns += r.samples[i]
	}
	if ns < 1 {
		return 0, false
	}
	return (newest - oldest) / float64(r.n) / ns, true
}
