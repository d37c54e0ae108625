// sdrout.go : receiver status output
package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wkazubski/gnss-sdr/channel"
	"github.com/wkazubski/gnss-sdr/gnss"
)

// updateNavStatusWin writes one status block: elapsed signal time, the
// satellites in tracking, the synchronized ones and a line per tracked
// channel
func updateNavStatusWin(w io.Writer, elapsed float64, sts []channel.Status) {
	var acq, trk strings.Builder
	for _, s := range sts {
		sat := gnss.SatName(s.System, s.PRN)
		if s.Mode == channel.Tracking {
			fmt.Fprintf(&acq, "%s ", sat)
		}
		if s.Tracking.Synced {
			fmt.Fprintf(&trk, "%s ", sat)
		}
	}
	fmt.Fprintf(w, "ETIME|%.3f\n", elapsed)
	fmt.Fprintf(w, "ACQSV|%s\n", strings.TrimSpace(acq.String()))
	fmt.Fprintf(w, "TRACKED|%s\n", strings.TrimSpace(trk.String()))
	for _, s := range sts {
		if s.Mode != channel.Tracking || !s.Tracking.State.Tracked() {
			continue
		}
		fmt.Fprintf(w, "OBS|%02d|%s|%s|%s|%04.1f|%7.1f|%.2f|%d\n",
			s.ID, gnss.SatName(s.System, s.PRN), s.Signal, s.Tracking.State,
			s.Tracking.CN0dBHz, s.Tracking.DopplerHz, s.Tracking.LockTest, s.Observables)
	}
}

// statusThread prints the status every interval until ctx is done
func (r *receiver) statusThread(ctx context.Context, w io.Writer, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	fs := r.cfg.Receiver.SamplingFrequency
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		sts := make([]channel.Status, len(r.chans))
		for i, ch := range r.chans {
			sts[i] = ch.Status()
		}
		elapsed := float64(gnss.Round(float64(r.mem.Counter())/fs*1e3)) / 1e3
		updateNavStatusWin(w, elapsed, sts)
	}
}
