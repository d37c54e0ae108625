//go:build unix

package dsp

import "golang.org/x/sys/unix"

// anonymous mappings are page aligned
func allocAligned(size int) ([]byte, func() error, error) {
	raw, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return raw, func() error { return unix.Munmap(raw) }, nil
}
