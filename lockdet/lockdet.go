// lockdet.go : CN0 estimation and code/carrier lock detection
package lockdet

import (
	"math"

	"github.com/charmbracelet/log"

	"github.com/wkazubski/gnss-sdr/gnss"
)

// forced fail count injected by a telemetry fault
const forcedFail = 200000

const (
	cn0Floor = 0.0   // dB-Hz, signal power not observable
	cn0Ceil  = 100.0 // dB-Hz, noise power not observable
)

// Options of the lock detector
type Options struct {
	Samples              int     // prompt buffer capacity
	CN0Min               float64 // dB-Hz
	CarrierLockThreshold float64 // 0..1
	MaxCodeLockFail      int
	MaxCarrierLockFail   int
	CN0Alpha             float64
	CN0SmootherSamples   int
	LockAlpha            float64
	LockSmootherSamples  int
}

// DefaultOptions returns the tracking defaults
func DefaultOptions() Options {
	return Options{
		Samples:              20,
		CN0Min:               25,
		CarrierLockThreshold: 0.85,
		MaxCodeLockFail:      50,
		MaxCarrierLockFail:   5000,
		CN0Alpha:             0.002,
		CN0SmootherSamples:   200,
		LockAlpha:            0.002,
		LockSmootherSamples:  25,
	}
}

// Estimator keeps the prompt history of one channel and decides if the
// channel is still in lock
type Estimator struct {
	opts Options
	port gnss.EventPort
	log  *log.Logger

	buf   []complex128
	count int

	cn0Smoother  *Smoother
	lockSmoother *Smoother
	cn0          float64
	lockTest     float64

	codeFail   int
	carrFail   int
	transitory bool
}

// New returns an estimator, port receives the loss of lock event (may be nil)
func New(opts Options, port gnss.EventPort, logger *log.Logger) *Estimator {
	if opts.Samples < 1 {
		opts.Samples = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Estimator{
		opts:         opts,
		port:         port,
		log:          logger,
		buf:          make([]complex128, opts.Samples),
		cn0Smoother:  NewSmoother(opts.CN0Alpha, opts.CN0SmootherSamples, opts.CN0Min),
		lockSmoother: NewSmoother(opts.LockAlpha, opts.LockSmootherSamples, -1),
	}
	e.Reset()
	return e
}

// Evaluate one prompt value integrated over t seconds, returns false once
// lock is lost
func (e *Estimator) Evaluate(prompt complex128, t float64) bool {
	n := len(e.buf)
	e.buf[e.count%n] = prompt
	e.count++
	if e.count > n {
		e.cn0 = e.cn0Smoother.Smooth(CN0M2M4(e.buf, t))
		e.lockTest = e.lockSmoother.Smooth(CarrierLock(e.buf))
		if !e.transitory {
			e.carrFail = step(e.carrFail, e.lockTest < e.opts.CarrierLockThreshold)
			e.codeFail = step(e.codeFail, e.cn0 < e.opts.CN0Min)
		}
	}
	if e.carrFail > e.opts.MaxCarrierLockFail || e.codeFail > e.opts.MaxCodeLockFail {
		e.log.Info("loss of lock", "carrier_fail", e.carrFail, "code_fail", e.codeFail)
		if e.port != nil {
			e.port.Publish(gnss.EventLossOfLock)
		}
		e.ResetCounters()
		return false
	}
	return true
}

func step(c int, fail bool) int {
	if fail {
		return c + 1
	}
	if c > 0 {
		return c - 1
	}
	return 0
}

// Force a loss of lock on the next evaluation
func (e *Estimator) Force() { e.carrFail = forcedFail }

// SetTransitory freezes the fail counters while set
func (e *Estimator) SetTransitory(on bool) { e.transitory = on }

func (e *Estimator) ResetCounters() {
	e.codeFail = 0
	e.carrFail = 0
}

// Restart empties the prompt buffer after a change of the integration
// time, smoothed values and counters are kept
func (e *Estimator) Restart() {
	clear(e.buf)
	e.count = 0
}

// Reset clears buffers, smoothers and counters
func (e *Estimator) Reset() {
	clear(e.buf)
	e.count = 0
	e.cn0 = 0
	e.lockTest = 1
	e.cn0Smoother.Reset()
	e.lockSmoother.Reset()
	e.ResetCounters()
}

// CN0 returns the smoothed CN0 [dB-Hz]
func (e *Estimator) CN0() float64 { return e.cn0 }

// LockTest returns the smoothed carrier lock test value
func (e *Estimator) LockTest() float64 { return e.lockTest }

// Counters returns the code and carrier lock fail counters
func (e *Estimator) Counters() (code, carrier int) { return e.codeFail, e.carrFail }

// Ready reports whether the prompt buffer was filled at least once
func (e *Estimator) Ready() bool { return e.count > len(e.buf) }

// CN0M2M4 second and fourth order moments SNR estimator, returns CN0 [dB-Hz]
// for prompt values integrated over t seconds
func CN0M2M4(p []complex128, t float64) float64 {
	var m2, m4 float64
	for _, v := range p {
		a := real(v)*real(v) + imag(v)*imag(v)
		m2 += a
		m4 += a * a
	}
	m2 /= float64(len(p))
	m4 /= float64(len(p))
	s := 2*m2*m2 - m4
	if s <= 0 {
		return cn0Floor
	}
	psig := math.Sqrt(s)
	pn := m2 - psig
	if pn <= 0 {
		return cn0Ceil
	}
	cn0 := 10*math.Log10(psig/pn) - 10*math.Log10(t)
	return math.Min(math.Max(cn0, cn0Floor), cn0Ceil)
}

// CarrierLock narrow band power ratio cos(2 phi) over the buffer
func CarrierLock(p []complex128) float64 {
	var si, sq float64
	for _, v := range p {
		si += math.Abs(real(v))
		sq += math.Abs(imag(v))
	}
	nbp := si*si + sq*sq
	if nbp == 0 {
		return 0
	}
	return (si*si - sq*sq) / nbp
}
