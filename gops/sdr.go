// sdr.go : receiver driver constants
package main

// Constants ------------------------------------------------------------------
const (
	// bytes per sample of the front end data types
	DTYPEI  = 1 // real int8
	DTYPEIQ = 2 // interleaved int8 I/Q

	// the memory buffer holds MEMBUFFLEN front end reads of FILE_BUFFSIZE
	// samples each
	MEMBUFFLEN    = 64
	FILE_BUFFSIZE = 65536

	// delay of the first acquisition of channel n
	CHSTARTDELAYMS = 50
)

// Helper functions ----------------------------------------------------------
func dtypeOf(sampleType string) int {
	if sampleType == "i8" {
		return DTYPEI
	}
	return DTYPEIQ
}
