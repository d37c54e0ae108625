// sdrrcv.go : file front end and shared sample memory buffer
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	errBufferClosed = errors.New("memory buffer closed")
	errOverwritten  = errors.New("samples overwritten in memory buffer")
)

// memBuffer is the ring of recent samples shared by all channels. Samples
// are addressed by absolute index, the writer blocks instead of overwriting
// samples a registered reader has not released yet.
type memBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []complex64
	head    uint64 // absolute index one past the newest sample
	cursors map[int]uint64
	closed  bool
}

func newMemBuffer(n int) *memBuffer {
	b := &memBuffer{buf: make([]complex64, n), cursors: make(map[int]uint64)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Register adds a reader starting at absolute index 0
func (b *memBuffer) Register(id int) {
	b.mu.Lock()
	b.cursors[id] = 0
	b.mu.Unlock()
}

// Release marks the samples before abs as no longer needed by reader id
func (b *memBuffer) Release(id int, abs uint64) {
	b.mu.Lock()
	b.cursors[id] = abs
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Unregister removes a finished reader
func (b *memBuffer) Unregister(id int) {
	b.mu.Lock()
	delete(b.cursors, id)
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *memBuffer) oldest() uint64 {
	low := b.head
	for _, c := range b.cursors {
		low = min(low, c)
	}
	return low
}

// Push appends samples, waiting for the slowest reader
func (b *memBuffer) Push(s []complex64) error {
	if len(s) > len(b.buf) {
		return fmt.Errorf("push of %d samples exceeds buffer of %d", len(s), len(b.buf))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && b.head+uint64(len(s))-b.oldest() > uint64(len(b.buf)) {
		b.cond.Wait()
	}
	if b.closed {
		return errBufferClosed
	}
	n := uint64(len(b.buf))
	for i, v := range s {
		b.buf[(b.head+uint64(i))%n] = v
	}
	b.head += uint64(len(s))
	b.cond.Broadcast()
	return nil
}

// Close wakes all waiters, readers get io.EOF past the last sample
func (b *memBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Get copies len(dst) samples from abs, waiting until they are available
func (b *memBuffer) Get(dst []complex64, abs uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := abs + uint64(len(dst))
	for !b.closed && b.head < end {
		b.cond.Wait()
	}
	if b.head < end {
		return io.EOF
	}
	return b.copyOut(dst, abs)
}

// ReadAt copies the available samples from abs without waiting
func (b *memBuffer) ReadAt(dst []complex64, abs uint64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if abs >= b.head {
		return 0, nil
	}
	dst = dst[:min(uint64(len(dst)), b.head-abs)]
	if err := b.copyOut(dst, abs); err != nil {
		return 0, err
	}
	return len(dst), nil
}

// Counter returns the absolute index one past the newest sample
func (b *memBuffer) Counter() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

func (b *memBuffer) copyOut(dst []complex64, abs uint64) error {
	n := uint64(len(b.buf))
	if b.head > n && abs < b.head-n {
		return fmt.Errorf("sample %d: %w", abs, errOverwritten)
	}
	// wrap around copy
	loc := abs % n
	k := copy(dst, b.buf[loc:])
	copy(dst[k:], b.buf)
	return nil
}

// decodeSamples converts int8 front end data to complex samples
func decodeSamples(dst []complex64, raw []byte, dtype int) int {
	n := len(raw) / dtype
	for i := 0; i < n; i++ {
		switch dtype {
		case DTYPEI:
			dst[i] = complex(float32(int8(raw[i])), 0)
		default:
			dst[i] = complex(float32(int8(raw[2*i])), float32(int8(raw[2*i+1])))
		}
	}
	return n
}

// frontEnd reads a sample file into the memory buffer
type frontEnd struct {
	fp      *os.File
	dtype   int
	loop    bool
	raw     []byte
	samples []complex64
	log     *log.Logger
	pushed  uint64
}

func openFrontEnd(path, sampleType string, loop bool, logger *log.Logger) (*frontEnd, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	dtype := dtypeOf(sampleType)
	return &frontEnd{
		fp:      fp,
		dtype:   dtype,
		loop:    loop,
		raw:     make([]byte, dtype*FILE_BUFFSIZE),
		samples: make([]complex64, FILE_BUFFSIZE),
		log:     logger.WithPrefix("rcv"),
	}, nil
}

// run pushes the file to mem until end of file or cancellation
func (fe *frontEnd) run(ctx context.Context, mem *memBuffer) error {
	defer mem.Close()
	for ctx.Err() == nil {
		nread, err := io.ReadFull(fe.fp, fe.raw)
		if nread > 0 {
			n := decodeSamples(fe.samples, fe.raw[:nread], fe.dtype)
			if perr := mem.Push(fe.samples[:n]); errors.Is(perr, errBufferClosed) {
				return nil
			} else if perr != nil {
				return perr
			}
			fe.pushed += uint64(n)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if !fe.loop {
				fe.log.Info("end of file", "samples", fe.pushed)
				return nil
			}
			if _, err := fe.fp.Seek(0, io.SeekStart); err != nil {
				return err
			}
		default:
			return fmt.Errorf("read error: %w", err)
		}
	}
	return nil
}

func (fe *frontEnd) Close() error {
	return fe.fp.Close()
}
