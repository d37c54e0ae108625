// secondary.go : secondary code and bit synchronization
package tracking

import "github.com/wkazubski/gnss-sdr/gnss"

// symbolSync keeps the prompt in-phase history of the last len(seq) code
// periods and searches it for the synchronization sequence
type symbolSync struct {
	seq   string
	buf   []float64
	head  int
	count int
}

func newSymbolSync(seq string) *symbolSync {
	return &symbolSync{seq: seq, buf: make([]float64, len(seq))}
}

func (s *symbolSync) reset() {
	s.head, s.count = 0, 0
}

func (s *symbolSync) push(v float64) {
	if len(s.buf) == 0 {
		return
	}
	s.buf[s.head] = v
	s.head = (s.head + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
}

// match correlates the history, oldest first, with the sequence. Only an
// exact match in every position synchronizes, inverted reports a match of
// the negated sequence.
func (s *symbolSync) match() (ok, inverted bool) {
	l := len(s.buf)
	if l == 0 || s.count < l {
		return false, false
	}
	corr := 0
	for k := 0; k < l; k++ {
		v := s.buf[(s.head+k)%l]
		if (v < 0) == (gnss.ChipSign(s.seq[k]) < 0) {
			corr++
		} else {
			corr--
		}
	}
	switch corr {
	case l:
		return true, false
	case -l:
		return true, true
	}
	return false, false
}

// dataSymbolPeriod returns the number of code periods of one data symbol
func dataSymbolPeriod(p gnss.SignalProfile, extend int) int {
	switch {
	case p.Pilot && p.DataSecondaryCode != "":
		return len(p.DataSecondaryCode)
	case p.SymbolsPerBit > 1:
		return p.SymbolsPerBit
	case extend > 1:
		return extend
	}
	return 1
}
