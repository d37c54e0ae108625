// sdrinit.go : receiver initialize/cleanup functions
package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wkazubski/gnss-sdr/acquisition"
	"github.com/wkazubski/gnss-sdr/channel"
	"github.com/wkazubski/gnss-sdr/config"
	"github.com/wkazubski/gnss-sdr/fpga"
	"github.com/wkazubski/gnss-sdr/gnss"
	"github.com/wkazubski/gnss-sdr/metrics"
	"github.com/wkazubski/gnss-sdr/sink"
	"github.com/wkazubski/gnss-sdr/tracking"
)

// receiver holds the channels of one run
type receiver struct {
	cfg   *config.Config
	mem   *memBuffer
	chans []*channel.Channel
	emu   *fpga.Emulator
	sinks sink.Multi
	mqtt  *sink.MQTT
	log   *log.Logger
}

// initReceiver builds one channel per configured PRN. Channels of unknown
// signals are skipped with an error message.
func initReceiver(cfg *config.Config, mem *memBuffer, reg prometheus.Registerer, session string, logger *log.Logger) (*receiver, error) {
	r := &receiver{cfg: cfg, mem: mem, log: logger}
	r.sinks = sink.Multi{sink.NewLog(logger, 1000)}
	if cfg.MQTT.Enabled {
		m, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
		}, session, logger)
		if err != nil {
			return nil, err
		}
		r.mqtt = m
		r.sinks = append(r.sinks, m)
	}

	var book *gnss.CodeBook
	if cfg.Codes.File != "" {
		b, err := gnss.LoadCodeBook(cfg.Codes.File)
		if err != nil {
			r.quit()
			return nil, err
		}
		book = b
	}

	fs := cfg.Receiver.SamplingFrequency
	if cfg.Receiver.Hardware {
		r.emu = fpga.NewEmulator(mem, 2*gnss.Round(fs*0.02)+16)
	}
	col := metrics.New(reg)
	ao, to := cfg.AcquisitionOptions(), cfg.TrackingOptions()

	id := 0
	for _, cc := range cfg.Channels {
		prof, err := gnss.LookupProfile(gnss.SignalID(cc.Signal), cfg.Tracking.TrackPilot)
		if err != nil {
			logger.Error("channel configuration", "signal", cc.Signal, "err", err)
			continue
		}
		for _, prn := range cc.PRNs {
			ch, err := r.initChannel(id, prof, prn, ao, to, book, col)
			if err != nil {
				logger.Error("channel initialization", "ch", id, "signal", cc.Signal, "prn", prn, "err", err)
				if errors.Is(err, gnss.ErrMissingCode) || errors.Is(err, gnss.ErrUnknownPRN) || errors.Is(err, gnss.ErrUnknownSignal) {
					continue
				}
				r.quit()
				return nil, err
			}
			r.chans = append(r.chans, ch)
			mem.Register(id)
			id++
		}
	}
	if len(r.chans) == 0 {
		r.quit()
		return nil, errors.New("no channel could be initialized")
	}
	return r, nil
}

func (r *receiver) initChannel(id int, prof gnss.SignalProfile, prn int, ao acquisition.Options, to tracking.Options, book *gnss.CodeBook, col *metrics.Collectors) (*channel.Channel, error) {
	opts := channel.Options{
		ID:          id,
		Acquisition: ao,
		Tracking:    to,
		Book:        book,
		Sink:        r.sinks,
		Events:      r.sinks,
		Metrics:     col,
		Logger:      r.log,
	}
	if r.cfg.Dump.Enabled {
		opts.DumpPrefix, opts.DumpCompress = r.cfg.Dump.Prefix, r.cfg.Dump.Compress
	}
	if r.emu != nil {
		corr, err := fpga.NewCorrelator(r.emu, id)
		if err != nil {
			return nil, err
		}
		opts.Correlator = corr
	}
	ch, err := channel.New(prof, opts)
	if err != nil {
		return nil, err
	}
	if err := ch.Assign(prn); err != nil {
		ch.Close()
		return nil, fmt.Errorf("assign: %w", err)
	}
	return ch, nil
}

// quit releases channels, correlator device and broker connection
func (r *receiver) quit() error {
	var errs []error
	for _, ch := range r.chans {
		errs = append(errs, ch.Close())
	}
	r.chans = nil
	if r.emu != nil {
		errs = append(errs, r.emu.Close())
	}
	if r.mqtt != nil {
		r.mqtt.Close()
	}
	return errors.Join(errs...)
}
