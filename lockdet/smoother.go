// smoother.go : exponential smoother with mean initialization
package lockdet

import "gonum.org/v1/gonum/stat"

// Smoother is an exponential smoother. The first Samples inputs are passed
// through unchanged and their mean seeds the smoothed value.
type Smoother struct {
	Alpha    float64
	Samples  int
	MinValue float64

	init  []float64
	old   float64
	ready bool
}

func NewSmoother(alpha float64, samples int, minValue float64) *Smoother {
	if samples < 1 {
		samples = 1
	}
	return &Smoother{Alpha: alpha, Samples: samples, MinValue: minValue}
}

// Smooth a raw value
func (s *Smoother) Smooth(raw float64) float64 {
	if !s.ready {
		s.init = append(s.init, raw)
		if len(s.init) >= s.Samples {
			s.old = stat.Mean(s.init, nil)
			if s.old < s.MinValue {
				s.old = s.MinValue
			}
			s.init = s.init[:0]
			s.ready = true
		}
		return raw
	}
	s.old = s.Alpha*raw + (1-s.Alpha)*s.old
	return s.old
}

func (s *Smoother) Reset() {
	s.init = s.init[:0]
	s.old = 0
	s.ready = false
}
