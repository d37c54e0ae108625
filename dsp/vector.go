// vector.go : vector helpers
package dsp

import "gonum.org/v1/gonum/floats"

// MaxVD returns the maximum of data and its index, skipping the index range
// [exinds, exinde] (which may wrap). exinds=exinde=-1 disables exclusion.
func MaxVD(data []float64, exinds, exinde int) (max float64, ind int) {
	if exinds < 0 && exinde < 0 {
		ind = floats.MaxIdx(data)
		return data[ind], ind
	}
	ind = -1
	for i, v := range data {
		if excluded(i, exinds, exinde) {
			continue
		}
		if ind < 0 || v > max {
			max = v
			ind = i
		}
	}
	return max, ind
}

// MeanVD returns the mean of data outside the excluded range
func MeanVD(data []float64, exinds, exinde int) float64 {
	if exinds < 0 && exinde < 0 {
		return floats.Sum(data) / float64(len(data))
	}
	var mean float64
	n := 0
	for i, v := range data {
		if excluded(i, exinds, exinde) {
			continue
		}
		mean += v
		n++
	}
	if n == 0 {
		return 0
	}
	return mean / float64(n)
}

func excluded(i, exinds, exinde int) bool {
	if exinds <= exinde {
		return i >= exinds && i <= exinde
	}
	return i >= exinds || i <= exinde
}

// Ind2Sub converts a linear index of an ny x nx grid to (column, row)
func Ind2Sub(ind, nx int) (subx, suby int) {
	return ind % nx, ind / nx
}

// AddTo accumulates src into dst
func AddTo(dst, src []float64) {
	floats.Add(dst, src)
}
