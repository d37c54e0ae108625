// channel.go : acquisition and tracking of one receiver channel
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wkazubski/gnss-sdr/acquisition"
	"github.com/wkazubski/gnss-sdr/dump"
	"github.com/wkazubski/gnss-sdr/gnss"
	"github.com/wkazubski/gnss-sdr/metrics"
	"github.com/wkazubski/gnss-sdr/tracking"
)

// Mode of a channel
type Mode int

const (
	Idle Mode = iota
	Acquiring
	Tracking
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Acquiring:
		return "acq"
	case Tracking:
		return "trk"
	}
	return "unknown"
}

// ObservableSink receives the observables emitted by tracking
type ObservableSink interface {
	Observable(s gnss.Synchro)
}

// Options of a channel
type Options struct {
	ID          int
	Acquisition acquisition.Options
	Tracking    tracking.Options

	// Book holds memory codes, nil for signals with generated codes only
	Book *gnss.CodeBook
	// Correlator replaces the software tracking correlator when set
	Correlator tracking.Correlator

	// DumpPrefix enables the tracking dump file <prefix><id>.dat
	DumpPrefix   string
	DumpCompress bool

	Sink    ObservableSink
	Events  gnss.EventPort
	Metrics *metrics.Collectors
	Logger  *log.Logger
}

// Status is a copy of the channel state for status displays
type Status struct {
	ID          int
	Signal      gnss.SignalID
	System      gnss.System
	PRN         int
	Mode        Mode
	Acquisition acquisition.State
	Quality     acquisition.Quality
	Tracking    tracking.Snapshot
	Attempts    int
	Observables uint64
	Counter     uint64
}

// Channel owns one acquisition and one tracker and routes their events
type Channel struct {
	mu      sync.Mutex
	opts    Options
	profile gnss.SignalProfile
	acq     *acquisition.PCPS
	trk     *tracking.Tracker
	dump    *dump.Writer
	metrics *metrics.Channel
	log     *log.Logger
	events  []gnss.Event

	prn         int
	mode        Mode
	counter     uint64
	attempts    int
	observables uint64
}

// New returns a channel for a signal profile
func New(profile gnss.SignalProfile, opts Options) (*Channel, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	c := &Channel{
		opts:    opts,
		profile: profile,
		log:     opts.Logger.WithPrefix("ch").With("ch", opts.ID, "signal", profile.Signal),
		metrics: opts.Metrics.Channel(opts.ID, string(profile.Signal)),
	}
	internal := gnss.EventFunc(func(ev gnss.Event) { c.events = append(c.events, ev) })

	ao := opts.Acquisition
	ao.Channel, ao.Logger = opts.ID, opts.Logger
	acq, err := acquisition.New(profile, ao, internal)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", opts.ID, err)
	}
	c.acq = acq

	to := opts.Tracking
	to.Channel, to.Logger, to.Metrics = opts.ID, opts.Logger, c.metrics
	if opts.DumpPrefix != "" {
		d, err := dump.Open(dump.Options{Path: dump.PathFor(opts.DumpPrefix, opts.ID, opts.DumpCompress), Compress: opts.DumpCompress})
		if err != nil {
			c.log.Warn("tracking dump disabled", "err", err)
		} else {
			c.dump = d
			to.Dump = d
		}
	}
	trk, err := tracking.New(profile, opts.Book, opts.Correlator, to, internal)
	if err != nil {
		c.closeDump()
		return nil, fmt.Errorf("channel %d: %w", opts.ID, err)
	}
	c.trk = trk
	return c, nil
}

// Assign sets the satellite of the channel and loads its codes. The
// channel stays idle until Start.
func (c *Channel) Assign(prn int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, err := c.profile.LocalCode(c.opts.Book, prn, false)
	if err != nil {
		return fmt.Errorf("channel %d prn %d: %w", c.opts.ID, prn, err)
	}
	c.acq.Reset()
	if err := c.acq.SetLocalCode(prn, code); err != nil {
		return err
	}
	if err := c.trk.SetSatellite(prn); err != nil {
		return err
	}
	c.prn = prn
	c.mode = Idle
	c.attempts = 0
	c.log = c.opts.Logger.WithPrefix("ch").With("ch", c.opts.ID, "signal", c.profile.Signal,
		"prn", gnss.SatName(c.profile.System, prn))
	c.log.Info("assigned")
	return nil
}

// Start arms the acquisition
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prn == 0 {
		return tracking.ErrNoSatellite
	}
	c.startAcquisition()
	return nil
}

func (c *Channel) startAcquisition() {
	c.acq.Reset()
	c.acq.Start()
	c.mode = Acquiring
}

// Stop halts tracking and acquisition and publishes STOP
func (c *Channel) Stop() {
	c.trk.Stop()
	c.mu.Lock()
	c.acq.SetActive(false)
	c.mode = Idle
	c.mu.Unlock()
	c.log.Info("stopped")
	if c.opts.Events != nil {
		c.opts.Events.Publish(gnss.EventStop)
	}
}

// TelemetryFault forces a loss of lock of the tracker
func (c *Channel) TelemetryFault() {
	c.trk.TelemetryFault()
}

// Forecast returns the number of samples the next Work call needs
func (c *Channel) Forecast() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Tracking {
		return c.trk.Forecast()
	}
	return c.acq.Forecast()
}

// Counter returns the absolute index of the next sample
func (c *Channel) Counter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Work feeds samples to the active stage and returns the number consumed
func (c *Channel) Work(in []complex64) (int, error) {
	c.mu.Lock()
	var (
		n   int
		err error
	)
	switch c.mode {
	case Idle:
		n = len(in)
	case Acquiring:
		n, err = c.acq.Work(in, c.counter)
	case Tracking:
		var out tracking.Output
		out, err = c.trk.Work(in, c.counter)
		n = out.Consumed
		if out.Emitted && c.opts.Sink != nil {
			out.Synchro.Channel = c.opts.ID
			c.opts.Sink.Observable(out.Synchro)
		}
		if out.Emitted {
			c.observables++
		}
		if errors.Is(err, tracking.ErrPullInTimeout) {
			// the tracker reported loss of lock
			c.log.Warn("pull-in", "err", err)
			err = nil
		}
	}
	c.counter += uint64(n)
	evs := c.handle()
	c.mu.Unlock()

	if c.opts.Events != nil {
		for _, ev := range evs {
			c.opts.Events.Publish(ev)
		}
	}
	return n, err
}

// handle runs the transitions of the collected events
func (c *Channel) handle() []gnss.Event {
	evs := c.events
	c.events = nil
	for _, ev := range evs {
		switch ev {
		case gnss.EventPositiveAcq:
			res := c.acq.Result()
			c.attempts++
			c.metrics.Acquisition(true, res.TestStatistic)
			if err := c.trk.StartTracking(res); err != nil {
				c.log.Error("start tracking", "err", err)
				c.startAcquisition()
				continue
			}
			c.mode = Tracking
		case gnss.EventNegativeAcq:
			res := c.acq.Result()
			c.attempts++
			c.metrics.Acquisition(false, res.TestStatistic)
			c.log.Debug("acquisition retry", "attempts", c.attempts)
			c.startAcquisition()
		case gnss.EventLossOfLock:
			c.log.Info("loss of lock, back to acquisition")
			c.startAcquisition()
		}
	}
	return evs
}

// Status returns a copy of the channel state
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ID:          c.opts.ID,
		Signal:      c.profile.Signal,
		System:      c.profile.System,
		PRN:         c.prn,
		Mode:        c.mode,
		Acquisition: c.acq.State(),
		Quality:     c.acq.Quality(),
		Tracking:    c.trk.Snapshot(),
		Attempts:    c.attempts,
		Observables: c.observables,
		Counter:     c.counter,
	}
}

// Close releases the tracker and the dump file
func (c *Channel) Close() error {
	c.trk.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.trk.Close(), c.closeDump())
}

func (c *Channel) closeDump() error {
	if c.dump == nil {
		return nil
	}
	err := c.dump.Close()
	c.dump = nil
	return err
}
