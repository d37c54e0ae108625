//go:build !unix

package dsp

import "unsafe"

func allocAligned(size int) ([]byte, func() error, error) {
	raw := make([]byte, size+Alignment)
	off := int(uintptr(unsafe.Pointer(&raw[0])) & (Alignment - 1))
	if off != 0 {
		off = Alignment - off
	}
	return raw[off : off+size], func() error { return nil }, nil
}
