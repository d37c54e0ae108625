// device.go : hardware correlator boundary
package fpga

import (
	"errors"

	"github.com/wkazubski/gnss-sdr/dsp"
)

var (
	ErrNoChannel = errors.New("fpga: channel not open")
	ErrLocked    = errors.New("fpga: channel locked")
	ErrUnderrun  = errors.New("fpga: samples not yet available")
)

// Device is a multichannel correlator that reads the sample stream itself.
// Channels are addressed by index, a locked channel ignores triggers.
type Device interface {
	Open(ch int) error
	LockChannel(ch int) error
	UnlockChannel(ch int) error

	// LoadCode writes the local code and the data code (nil if none) in
	// local code entries
	LoadCode(ch int, code, data []float32) error
	SetTaps(ch int, shifts []float64) error
	// SetSecondaryCodes loads the overlay codes removed by the device, empty
	// strings disable the removal
	SetSecondaryCodes(ch int, tracked, data string) error

	// SetInitialSample sets the absolute index of the next correlation
	SetInitialSample(ch int, abs uint64) error
	// Trigger correlates n samples from the current position and advances it
	Trigger(ch int, n int, nco dsp.NCO) error
	ReadAccumulators(ch int, out []complex64, data *complex64) error

	// SampleCounter returns the absolute index one past the newest sample
	SampleCounter() (uint64, error)
	Close() error
}

// Correlator adapts one device channel to the tracking correlator
type Correlator struct {
	dev    Device
	ch     int
	next   uint64
	primed bool
}

// NewCorrelator opens channel ch of dev
func NewCorrelator(dev Device, ch int) (*Correlator, error) {
	if err := dev.Open(ch); err != nil {
		return nil, err
	}
	return &Correlator{dev: dev, ch: ch}, nil
}

// SetLocalCode loads the replicas with the channel locked. Overlay codes
// are removed by the tracking loop, so the device removal stays disabled.
func (c *Correlator) SetLocalCode(code, data []float32) error {
	if err := c.dev.LockChannel(c.ch); err != nil {
		return err
	}
	if err := c.dev.LoadCode(c.ch, code, data); err != nil {
		return err
	}
	if err := c.dev.SetSecondaryCodes(c.ch, "", ""); err != nil {
		return err
	}
	c.primed = false
	return c.dev.UnlockChannel(c.ch)
}

func (c *Correlator) SetShifts(shifts []float64) error {
	return c.dev.SetTaps(c.ch, shifts)
}

// Correlate runs the device on n samples from the absolute index start,
// in is not read
func (c *Correlator) Correlate(_ []complex64, start uint64, n int, nco dsp.NCO, out []complex64, data *complex64) error {
	if !c.primed || start != c.next {
		if err := c.dev.SetInitialSample(c.ch, start); err != nil {
			return err
		}
		c.primed = true
	}
	if err := c.dev.Trigger(c.ch, n, nco); err != nil {
		c.primed = false
		return err
	}
	c.next = start + uint64(n)
	return c.dev.ReadAccumulators(c.ch, out, data)
}

// Close locks the channel
func (c *Correlator) Close() error {
	return c.dev.LockChannel(c.ch)
}
