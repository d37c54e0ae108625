// sink.go : destinations of observables and channel events
package sink

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wkazubski/gnss-sdr/gnss"
)

// Sink receives observables and channel events
type Sink interface {
	Observable(s gnss.Synchro)
	Publish(ev gnss.Event)
}

// Multi fans records out to several sinks
type Multi []Sink

func (m Multi) Observable(s gnss.Synchro) {
	for _, k := range m {
		k.Observable(s)
	}
}

func (m Multi) Publish(ev gnss.Event) {
	for _, k := range m {
		k.Publish(ev)
	}
}

// Log writes every Every-th valid observable of a channel and all events
// to a logger
type Log struct {
	mu     sync.Mutex
	log    *log.Logger
	every  int
	counts map[int]int
}

// NewLog returns a log sink, every < 1 logs all observables
func NewLog(logger *log.Logger, every int) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{log: logger.WithPrefix("obs"), every: max(every, 1), counts: make(map[int]int)}
}

func (l *Log) Observable(s gnss.Synchro) {
	if !s.FlagValidSymbol {
		l.log.Warn("invalid observable", "ch", s.Channel, "sat", gnss.SatName(s.System, s.PRN))
		return
	}
	l.mu.Lock()
	n := l.counts[s.Channel]
	l.counts[s.Channel] = n + 1
	l.mu.Unlock()
	if n%l.every != 0 {
		return
	}
	l.log.Info("observable", "ch", s.Channel, "sat", gnss.SatName(s.System, s.PRN),
		"doppler", s.CarrierDopplerHz, "cn0", s.CN0dBHz, "code_phase", s.CodePhaseSamples,
		"samples", s.TrackingSampleCount, "pll180", s.FlagPLL180)
}

func (l *Log) Publish(ev gnss.Event) {
	l.log.Info("event", "event", ev)
}
