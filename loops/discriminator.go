// discriminator.go : code and carrier discriminators
package loops

import "math"

// Costas two quadrant arctangent phase discriminator [rad], insensitive to
// 180 degree data transitions
func Costas(p complex128) float64 {
	if real(p) == 0 {
		return 0
	}
	return math.Atan(imag(p) / real(p))
}

// FourQuadrant phase discriminator [rad] for pilot tracking
func FourQuadrant(p complex128) float64 {
	return math.Atan2(imag(p), real(p))
}

// FLLDiffAtan frequency discriminator [rad/s] from two consecutive prompt
// values at times t1 and t2
func FLLDiffAtan(p1, p2 complex128, t1, t2 float64) float64 {
	d := math.Atan(imag(p2)/real(p2)) - math.Atan(imag(p1)/real(p1))
	if math.IsNaN(d) {
		d = 0
	}
	return PhaseUnwrap(d) / (t2 - t1)
}

// FLLFourQuadrant cross/dot frequency discriminator [rad/s]
func FLLFourQuadrant(p1, p2 complex128, t float64) float64 {
	cross := real(p1)*imag(p2) - imag(p1)*real(p2)
	dot := real(p1)*real(p2) + imag(p1)*imag(p2)
	return math.Atan2(cross, dot) / t
}

// PhaseUnwrap wraps a phase difference to [-pi, pi]
func PhaseUnwrap(d float64) float64 {
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

// DLLEarlyLate normalized early minus late envelope discriminator [chips].
// slope and intercept calibrate the error to the code correlation shape at
// the given spacing.
func DLLEarlyLate(e, l complex128, spacing, slope, intercept float64) float64 {
	pe, pl := abs(e), abs(l)
	if pe+pl == 0 {
		return 0
	}
	return (intercept - slope*spacing) / slope * (pe - pl) / (pe + pl)
}

// DLLVEML normalized very early, early, late, very late discriminator
func DLLVEML(ve, e, l, vl complex128, spacing, slope, intercept float64) float64 {
	pe := math.Sqrt(norm(ve) + norm(e))
	pl := math.Sqrt(norm(vl) + norm(l))
	if pe+pl == 0 {
		return 0
	}
	return (intercept - slope*spacing) / slope * (pe - pl) / (pe + pl)
}

func norm(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}

func abs(c complex128) float64 {
	return math.Sqrt(norm(c))
}
