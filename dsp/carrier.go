// carrier.go : carrier generation and mixing
package dsp

import "math"

// CarrierTable returns exp(-j*2*pi*freq*i/fs) for i in [0,n), the
// conjugate carrier used to wipe off a Doppler hypothesis.
func CarrierTable(n int, freq, fs float64) []complex128 {
	t := make([]complex128, n)
	step := -2 * math.Pi * freq / fs
	for i := range t {
		s, c := math.Sincos(step * float64(i))
		t[i] = complex(c, s)
	}
	return t
}

// MixCarr wipes off a carrier of freq (Hz) with initial phase phi0 (rad)
// from in and writes the result to dst. It returns the carrier phase after
// the last sample, wrapped to [0, 2pi).
func MixCarr(dst []complex128, in []complex64, freq, fs, phi0 float64) float64 {
	n := len(in)
	if len(dst) < n {
		panic("dsp: mixcarr output too short")
	}
	step := 2 * math.Pi * freq / fs
	for i := 0; i < n; i++ {
		s, c := math.Sincos(phi0 + step*float64(i))
		dst[i] = complex128(in[i]) * complex(c, -s)
	}
	return math.Mod(math.Mod(phi0+step*float64(n), 2*math.Pi)+2*math.Pi, 2*math.Pi)
}

// Wipe multiplies a block by a precomputed carrier table
func Wipe(dst []complex128, in []complex64, table []complex128) {
	if len(dst) < len(in) || len(table) < len(in) {
		panic("dsp: wipe buffer size mismatch")
	}
	for i, v := range in {
		dst[i] = complex128(v) * table[i]
	}
}

// Power returns the mean squared magnitude of a block
func Power(in []complex64) float64 {
	if len(in) == 0 {
		return 0
	}
	var p float64
	for _, v := range in {
		re, im := float64(real(v)), float64(imag(v))
		p += re*re + im*im
	}
	return p / float64(len(in))
}
