// fft.go : FFT helpers for the parallel code search
package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT is a complex transform of fixed length. The inverse is not
// normalized, an inverse after a forward transform scales by Len().
type FFT struct {
	n    int
	plan *fourier.CmplxFFT
	tmp  []complex128
}

func NewFFT(n int) *FFT {
	if n <= 0 {
		panic(fmt.Sprintf("dsp: invalid fft size %d", n))
	}
	return &FFT{n: n, plan: fourier.NewCmplxFFT(n), tmp: make([]complex128, n)}
}

func (f *FFT) Len() int { return f.n }

// Forward transform of src into dst (allocated when nil)
func (f *FFT) Forward(dst, src []complex128) []complex128 {
	f.check(src)
	return f.plan.Coefficients(dst, src)
}

// Inverse transform without 1/n scaling: conj -> FFT -> conj
func (f *FFT) Inverse(dst, src []complex128) []complex128 {
	f.check(src)
	for i, v := range src {
		f.tmp[i] = complex(real(v), -imag(v))
	}
	dst = f.plan.Coefficients(dst, f.tmp)
	for i, v := range dst {
		dst[i] = complex(real(v), -imag(v))
	}
	return dst
}

func (f *FFT) check(src []complex128) {
	if len(src) != f.n {
		panic(fmt.Sprintf("dsp: fft input length %d, want %d", len(src), f.n))
	}
}

// CodeFFT returns the conjugated transform of a real code replica, zero
// padded to the transform length.
func (f *FFT) CodeFFT(rcode []float32) []complex128 {
	if len(rcode) > f.n {
		panic(fmt.Sprintf("dsp: code replica length %d exceeds fft size %d", len(rcode), f.n))
	}
	x := make([]complex128, f.n)
	for i, c := range rcode {
		x[i] = complex(float64(c), 0)
	}
	X := f.Forward(nil, x)
	for i, v := range X {
		X[i] = complex(real(v), -imag(v))
	}
	return X
}

// Pcorrelator computes the circular cross correlation of a carrier wiped
// block with a code and writes |r|^2 normalized by (n^2)^2 to power.
// conjCode is the output of CodeFFT. work must have length n.
func (f *FFT) Pcorrelator(wiped []complex128, conjCode []complex128, work []complex128, power []float64) {
	if len(conjCode) != f.n || len(work) != f.n || len(power) < f.n {
		panic("dsp: pcorrelator buffer size mismatch")
	}
	X := f.Forward(work, wiped)
	for i := range X {
		X[i] *= conjCode[i]
	}
	r := f.Inverse(X, X)
	m2 := float64(f.n) * float64(f.n)
	norm := m2 * m2
	for i, v := range r {
		power[i] = (real(v)*real(v) + imag(v)*imag(v)) / norm
	}
}
