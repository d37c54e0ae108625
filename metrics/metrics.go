// metrics.go : prometheus collectors of the acquisition and tracking channels
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gnss"

// Collectors holds the receiver metric vectors. A nil *Collectors is valid
// and records nothing.
type Collectors struct {
	acqAttempts  *prometheus.CounterVec // by signal and result
	acqStatistic *prometheus.GaugeVec   // last test statistic by channel
	cn0          *prometheus.GaugeVec   // dB-Hz by channel
	lockTest     *prometheus.GaugeVec   // carrier lock test by channel
	state        *prometheus.GaugeVec   // tracking state by channel
	prn          *prometheus.GaugeVec   // assigned satellite by channel
	lossOfLock   *prometheus.CounterVec // by channel
	observables  *prometheus.CounterVec // emitted records by channel
}

// New registers the collectors on reg (prometheus.DefaultRegisterer if nil)
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	ch := []string{"channel", "signal"}
	return &Collectors{
		acqAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisition_attempts_total",
				Help:      "Acquisition attempts by signal and result",
			},
			[]string{"signal", "result"},
		),
		acqStatistic: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "acquisition_test_statistic",
				Help:      "Test statistic of the last acquisition attempt",
			},
			ch,
		),
		cn0: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracking_cn0_dbhz",
				Help:      "Smoothed carrier to noise density ratio in dB-Hz",
			},
			ch,
		),
		lockTest: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracking_carrier_lock_test",
				Help:      "Smoothed carrier lock test value",
			},
			ch,
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracking_state",
				Help:      "Tracking state (0 idle, 1 pull-in, 2 wide, 3 extend, 4 narrow)",
			},
			ch,
		),
		prn: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_prn",
				Help:      "Satellite PRN assigned to the channel",
			},
			ch,
		),
		lossOfLock: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_loss_of_lock_total",
				Help:      "Loss of lock events",
			},
			ch,
		),
		observables: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_observables_total",
				Help:      "Observable records emitted",
			},
			ch,
		),
	}
}

// Channel returns the label bound view of one channel
func (c *Collectors) Channel(channel int, signal string) *Channel {
	if c == nil {
		return nil
	}
	return &Channel{c: c, labels: prometheus.Labels{"channel": strconv.Itoa(channel), "signal": signal}, signal: signal}
}

// Channel records the metrics of one channel. Methods on a nil *Channel are
// no-ops.
type Channel struct {
	c      *Collectors
	labels prometheus.Labels
	signal string
}

// Acquisition records one finished attempt
func (m *Channel) Acquisition(positive bool, statistic float64) {
	if m == nil {
		return
	}
	result := "negative"
	if positive {
		result = "positive"
	}
	m.c.acqAttempts.WithLabelValues(m.signal, result).Inc()
	m.c.acqStatistic.With(m.labels).Set(statistic)
}

// Assign records the satellite of the channel
func (m *Channel) Assign(prn int) {
	if m == nil {
		return
	}
	m.c.prn.With(m.labels).Set(float64(prn))
}

// Lock records the lock detector outputs
func (m *Channel) Lock(cn0, lockTest float64) {
	if m == nil {
		return
	}
	m.c.cn0.With(m.labels).Set(cn0)
	m.c.lockTest.With(m.labels).Set(lockTest)
}

// State records the tracking state
func (m *Channel) State(s int) {
	if m == nil {
		return
	}
	m.c.state.With(m.labels).Set(float64(s))
}

func (m *Channel) LossOfLock() {
	if m == nil {
		return
	}
	m.c.lossOfLock.With(m.labels).Inc()
}

func (m *Channel) Observable() {
	if m == nil {
		return
	}
	m.c.observables.With(m.labels).Inc()
}
