// sdrmain.go : gnss receiver main
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wkazubski/gnss-sdr/channel"
	"github.com/wkazubski/gnss-sdr/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gops:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fl := pflag.NewFlagSet("gops", pflag.ContinueOnError)
	var (
		confPath    = fl.StringP("config", "c", "", "Receiver configuration file (yaml)")
		samplePath  = fl.StringP("file", "f", "", "Sample file, overrides receiver.file")
		level       = fl.String("log-level", "info", "Log level (debug, info, warn, error)")
		listen      = fl.String("metrics", "", "Prometheus listen address, overrides metrics.listen")
		printConfig = fl.Bool("print-config", false, "Print the effective configuration and exit")
	)
	if err := fl.Parse(args); errors.Is(err, pflag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "gops"})
	lvl, err := log.ParseLevel(*level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	cfg, err := config.Load(*confPath)
	if err != nil {
		return err
	}
	if *samplePath != "" {
		cfg.Receiver.File = *samplePath
	}
	if *listen != "" {
		cfg.Metrics.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *printConfig {
		out, err := cfg.Render()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	if cfg.Receiver.File == "" {
		return errors.New("no sample file, use --file or receiver.file")
	}

	session := uuid.NewString()
	logger.Info("starting receiver", "session", session, "file", cfg.Receiver.File,
		"fs", cfg.Receiver.SamplingFrequency, "hardware", cfg.Receiver.Hardware)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		logger.Info("metrics server", "listen", cfg.Metrics.Listen)
	}

	fe, err := openFrontEnd(cfg.Receiver.File, cfg.Receiver.SampleType, cfg.Receiver.Loop, logger)
	if err != nil {
		return err
	}
	defer fe.Close()

	mem := newMemBuffer(MEMBUFFLEN * FILE_BUFFSIZE)
	rcv, err := initReceiver(cfg, mem, reg, session, logger)
	if err != nil {
		return err
	}
	logger.Info("channels initialized", "n", len(rcv.chans))

	err = rcv.startThreads(ctx, fe)

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		srv.Shutdown(sctx)
		cancel()
	}
	if qerr := rcv.quit(); qerr != nil {
		logger.Error("receiver shutdown", "err", qerr)
	}
	logger.Info("receiver stopped", "samples", mem.Counter())
	return err
}

// startThreads runs the front end, the channel threads and the status
// printer until the file ends or ctx is canceled
func (r *receiver) startThreads(ctx context.Context, fe *frontEnd) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var chg errgroup.Group
	for i, ch := range r.chans {
		i, ch := i, ch
		chg.Go(func() error { return r.channelThread(gctx, i, ch) })
	}
	// all channels done, nothing left to read
	g.Go(func() error {
		err := chg.Wait()
		cancel()
		return err
	})
	g.Go(func() error { return fe.run(gctx, r.mem) })
	g.Go(func() error {
		<-gctx.Done()
		r.mem.Close()
		return nil
	})
	if r.cfg.Receiver.StatusInterval > 0 {
		interval := time.Duration(r.cfg.Receiver.StatusInterval) * time.Millisecond
		g.Go(func() error { return r.statusThread(gctx, os.Stdout, interval) })
	}
	return g.Wait()
}

// channelThread feeds one channel from the memory buffer
func (r *receiver) channelThread(ctx context.Context, id int, ch *channel.Channel) error {
	defer r.mem.Unregister(id)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(time.Duration(id*CHSTARTDELAYMS) * time.Millisecond):
	}
	if err := ch.Start(); err != nil {
		return fmt.Errorf("channel %d: %w", id, err)
	}

	var buf []complex64
	for ctx.Err() == nil {
		n := ch.Forecast()
		if n > cap(buf) {
			buf = make([]complex64, n)
		}
		abs := ch.Counter()
		if err := r.mem.Get(buf[:n], abs); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("channel %d: %w", id, err)
		}
		used, err := ch.Work(buf[:n])
		if err != nil {
			return err
		}
		r.mem.Release(id, abs+uint64(used))
	}
	return nil
}
