// emulator.go : software model of the correlator device
package fpga

import (
	"fmt"
	"sync"

	"github.com/wkazubski/gnss-sdr/dsp"
	"github.com/wkazubski/gnss-sdr/gnss"
)

// SampleSource gives random access to the recent sample stream
type SampleSource interface {
	// ReadAt copies samples from the absolute index abs, returns the
	// number copied
	ReadAt(dst []complex64, abs uint64) (int, error)
	// Counter returns the absolute index one past the newest sample
	Counter() uint64
}

// MemorySource is a SampleSource over a slice starting at index 0
type MemorySource []complex64

func (m MemorySource) ReadAt(dst []complex64, abs uint64) (int, error) {
	if abs >= uint64(len(m)) {
		return 0, nil
	}
	return copy(dst, m[abs:]), nil
}

func (m MemorySource) Counter() uint64 { return uint64(len(m)) }

type emuChannel struct {
	mc        *dsp.Multicorrelator
	buf       []complex64
	out       []complex64
	data      complex64
	taps      int
	locked    bool
	pos       uint64
	secondary [2]string
	index     [2]int // overlay chip of the next trigger
}

// Emulator is a Device computing on the host
type Emulator struct {
	mu         sync.Mutex
	src        SampleSource
	maxSamples int
	chans      map[int]*emuChannel
}

// NewEmulator returns a device reading src, maxSamples bounds a trigger
func NewEmulator(src SampleSource, maxSamples int) *Emulator {
	return &Emulator{src: src, maxSamples: maxSamples, chans: make(map[int]*emuChannel)}
}

func (e *Emulator) channel(ch int) (*emuChannel, error) {
	c, ok := e.chans[ch]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", ch, ErrNoChannel)
	}
	return c, nil
}

func (e *Emulator) Open(ch int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.chans[ch]; ok {
		return nil
	}
	mc, err := dsp.NewMulticorrelator(e.maxSamples)
	if err != nil {
		return err
	}
	e.chans[ch] = &emuChannel{mc: mc, buf: make([]complex64, e.maxSamples), locked: true}
	return nil
}

func (e *Emulator) LockChannel(ch int) error {
	return e.with(ch, func(c *emuChannel) error {
		c.locked = true
		return nil
	})
}

func (e *Emulator) UnlockChannel(ch int) error {
	return e.with(ch, func(c *emuChannel) error {
		c.locked = false
		return nil
	})
}

func (e *Emulator) LoadCode(ch int, code, data []float32) error {
	return e.with(ch, func(c *emuChannel) error {
		if err := c.mc.SetLocalCode(code); err != nil {
			return err
		}
		return c.mc.SetDataCode(data)
	})
}

func (e *Emulator) SetTaps(ch int, shifts []float64) error {
	return e.with(ch, func(c *emuChannel) error {
		c.mc.SetShifts(shifts)
		c.taps = len(shifts)
		if cap(c.out) < c.taps {
			c.out = make([]complex64, c.taps)
		}
		c.out = c.out[:c.taps]
		return nil
	})
}

func (e *Emulator) SetSecondaryCodes(ch int, tracked, data string) error {
	return e.with(ch, func(c *emuChannel) error {
		c.secondary = [2]string{tracked, data}
		c.index = [2]int{}
		return nil
	})
}

func (e *Emulator) SetInitialSample(ch int, abs uint64) error {
	return e.with(ch, func(c *emuChannel) error {
		c.pos = abs
		c.index = [2]int{}
		return nil
	})
}

func (e *Emulator) Trigger(ch int, n int, nco dsp.NCO) error {
	return e.with(ch, func(c *emuChannel) error {
		if c.locked {
			return fmt.Errorf("channel %d: %w", ch, ErrLocked)
		}
		if n > len(c.buf) {
			return fmt.Errorf("fpga: trigger of %d samples exceeds %d", n, len(c.buf))
		}
		if e.src.Counter() < c.pos+uint64(n) {
			return ErrUnderrun
		}
		k, err := e.src.ReadAt(c.buf[:n], c.pos)
		if err != nil {
			return err
		}
		if k < n {
			return ErrUnderrun
		}
		c.mc.Correlate(c.buf[:n], nco, c.out, &c.data)
		e.removeSecondary(c)
		c.pos += uint64(n)
		return nil
	})
}

// removeSecondary applies the overlay chip of this code period by sign
func (e *Emulator) removeSecondary(c *emuChannel) {
	if s := c.secondary[0]; s != "" {
		g := complex(float32(gnss.ChipSign(s[c.index[0]])), 0)
		for k := range c.out {
			c.out[k] *= g
		}
		c.index[0] = (c.index[0] + 1) % len(s)
	}
	if s := c.secondary[1]; s != "" {
		c.data *= complex(float32(gnss.ChipSign(s[c.index[1]])), 0)
		c.index[1] = (c.index[1] + 1) % len(s)
	}
}

func (e *Emulator) ReadAccumulators(ch int, out []complex64, data *complex64) error {
	return e.with(ch, func(c *emuChannel) error {
		if len(out) < len(c.out) {
			return fmt.Errorf("fpga: %d accumulators for %d taps", len(out), len(c.out))
		}
		copy(out, c.out)
		if data != nil {
			*data = c.data
		}
		return nil
	})
}

func (e *Emulator) SampleCounter() (uint64, error) {
	return e.src.Counter(), nil
}

// Close releases all channels
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	for k, c := range e.chans {
		if cerr := c.mc.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(e.chans, k)
	}
	return err
}

func (e *Emulator) with(ch int, fn func(c *emuChannel) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.channel(ch)
	if err != nil {
		return err
	}
	return fn(c)
}
