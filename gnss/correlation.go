// correlation.go : code autocorrelation model for DLL calibration
package gnss

import "math"

const corrResolution = 512

// Autocorrelation returns the normalized autocorrelation of a random
// spreading code with a sinBOC sub-carrier of spc half periods per chip at a
// lag of tau chips. spc<=1 is plain BPSK (triangle).
func Autocorrelation(spc int, tau float64) float64 {
	tau = math.Abs(tau)
	if spc <= 1 {
		if tau >= 1 {
			return 0
		}
		return 1 - tau
	}
	if tau >= 1 {
		return 0
	}
	// one chip pulse made of spc alternating segments, sampled finely
	n := spc * corrResolution
	shift := tau * float64(n)
	k := int(math.Floor(shift))
	frac := shift - float64(k)
	var sum float64
	for i := 0; i+k < n; i++ {
		a := pulse(i)
		b := pulse(i + k)
		c := 0.0
		if i+k+1 < n {
			c = pulse(i + k + 1)
		}
		sum += a * ((1-frac)*b + frac*c)
	}
	return sum / float64(n)
}

func pulse(i int) float64 {
	if (i/corrResolution)%2 == 1 {
		return -1
	}
	return 1
}

// DLLCalibration returns the absolute slope and y intercept of the
// autocorrelation main lobe at the early/late spacing (chips).
func DLLCalibration(spc int, spacing float64) (slope, intercept float64) {
	const h = 1e-3
	slope = math.Abs(Autocorrelation(spc, spacing+h)-Autocorrelation(spc, spacing-h)) / (2 * h)
	intercept = math.Abs(Autocorrelation(spc, spacing) + slope*spacing)
	if slope == 0 {
		slope, intercept = 1, 1
	}
	return slope, intercept
}
