// grid.go : Doppler search grid
package acquisition

import (
	"fmt"
	"math"

	"github.com/wkazubski/gnss-sdr/dsp"
)

// Bin is one Doppler hypothesis with its carrier wipeoff table
type Bin struct {
	DopplerHz float64
	Wipeoff   []complex128
}

// DopplerGrid spans [-max, +max] in fixed steps. It is read only during a
// search and rebuilt when the search limits or the frequency plan change.
type DopplerGrid struct {
	Max  float64
	Step float64
	IF   float64
	Fs   float64
	Bins []Bin
}

// GridSize returns the number of bins for a search range
func GridSize(max, step float64) int {
	return int(math.Ceil(2*max/step)) + 1
}

// NewDopplerGrid builds wipeoff tables of n samples for every bin
func NewDopplerGrid(max, step, ifFreq, fs float64, n int) (*DopplerGrid, error) {
	if step <= 0 || max < 0 {
		return nil, fmt.Errorf("acquisition: invalid doppler range max=%g step=%g", max, step)
	}
	if fs <= 0 || n <= 0 {
		return nil, fmt.Errorf("acquisition: invalid grid fs=%g n=%d", fs, n)
	}
	g := &DopplerGrid{Max: max, Step: step, IF: ifFreq, Fs: fs}
	g.Bins = make([]Bin, GridSize(max, step))
	for i := range g.Bins {
		d := -max + step*float64(i)
		g.Bins[i] = Bin{DopplerHz: d, Wipeoff: dsp.CarrierTable(n, ifFreq+d, fs)}
	}
	return g, nil
}

func (g *DopplerGrid) Len() int { return len(g.Bins) }
