// code.go : code resampling
package dsp

import "math"

// ResCode resamples a local code table to n samples starting at code phase
// coff (table entries) with a step of ci entries per sample. It returns the
// code phase after the last sample.
func ResCode(code []float32, coff, ci float64, n int, rcode []float32) float64 {
	l := float64(len(code))
	if len(rcode) < n {
		panic("dsp: rescode output too short")
	}
	coff -= math.Floor(coff/l) * l
	for i := 0; i < n; i++ {
		if coff >= l {
			coff -= l
		}
		rcode[i] = code[int(coff)]
		coff += ci
	}
	return coff
}

// Rotate returns a copy of x circularly shifted right by k, so that
// out[k] = x[0].
func Rotate(x []float32, k int) []float32 {
	n := len(x)
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	k = ((k % n) + n) % n
	copy(out[k:], x[:n-k])
	copy(out[:k], x[n-k:])
	return out
}
