// aligned.go : alignment guaranteed buffers owned by a component
package dsp

import (
	"fmt"
	"unsafe"
)

// Alignment of every Buffer returned by NewBuffer
const Alignment = 64

// Sample is the set of element types a Buffer can hold
type Sample interface {
	~float32 | ~float64 | ~complex64 | ~complex128 | ~int16
}

// Buffer is a fixed size slice whose first element is aligned to at least
// Alignment bytes. The owner must call Close when done; Data must not be
// used afterwards.
type Buffer[T Sample] struct {
	Data    []T
	release func() error
}

// NewBuffer allocates an aligned buffer of n zeroed elements
func NewBuffer[T Sample](n int) (*Buffer[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("dsp: negative buffer length %d", n)
	}
	if n == 0 {
		return &Buffer[T]{Data: []T{}}, nil
	}
	var zero T
	size := n * int(unsafe.Sizeof(zero))
	raw, release, err := allocAligned(size)
	if err != nil {
		return nil, fmt.Errorf("dsp: aligned alloc of %d bytes: %w", size, err)
	}
	return &Buffer[T]{Data: unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n), release: release}, nil
}

// MustBuffer is NewBuffer for sizes known to be valid
func MustBuffer[T Sample](n int) *Buffer[T] {
	b, err := NewBuffer[T](n)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Buffer[T]) Len() int { return len(b.Data) }

// Zero clears the buffer
func (b *Buffer[T]) Zero() {
	clear(b.Data)
}

// Close releases the memory
func (b *Buffer[T]) Close() error {
	if b == nil || b.release == nil {
		return nil
	}
	err := b.release()
	b.release = nil
	b.Data = nil
	return err
}
