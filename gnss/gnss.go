// gnss.go : GNSS constants and identifiers
package gnss

import (
	"fmt"
	"math"
)

// Constants ------------------------------------------------------------------
const (
	PI     = 3.1415926535897932
	DPI    = 2.0 * PI
	CLIGHT = 299792458.0

	FreqL1 = 1575.42e6
	FreqL2 = 1227.60e6
	FreqL5 = 1176.45e6

	CRateL1CA = 1.023e6
	LenL1CA   = 1023
	CRateL2CM = 0.5115e6
	LenL2CM   = 10230
	CRateL5   = 10.23e6
	LenL5     = 10230
	CRateE1   = 1.023e6
	LenE1     = 4092
	CRateE5a  = 10.23e6
	LenE5a    = 10230

	MaxGPSPRN = 32
	MaxGALPRN = 50
)

// System identifies a constellation
type System byte

const (
	GPS     System = 'G'
	Galileo System = 'E'
)

func (s System) String() string {
	switch s {
	case GPS:
		return "GPS"
	case Galileo:
		return "Galileo"
	}
	return fmt.Sprintf("System(%c)", byte(s))
}

// SignalID is the two character signal code used by the receiver configuration
type SignalID string

const (
	SignalL1CA SignalID = "1C"
	SignalL2CM SignalID = "2S"
	SignalL5   SignalID = "L5"
	SignalE1   SignalID = "1B"
	SignalE5a  SignalID = "5X"
)

// SatName returns a satellite string like G01 or E11
func SatName(sys System, prn int) string {
	return fmt.Sprintf("%c%02d", byte(sys), prn)
}

// Round to nearest integer
func Round(x float64) int {
	return int(math.Floor(x + 0.5))
}
