// dump.go : per cycle tracking diagnostic records
package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var ErrClosed = errors.New("dump: writer closed")

// Record is one tracking cycle. Fields are written in declaration order,
// little endian, with no padding.
type Record struct {
	AbsVE, AbsE, AbsP, AbsL, AbsVL float32
	PromptI, PromptQ               float32
	SampleCounter                  uint64
	AccCarrierPhaseRad             float32
	CarrierDopplerHz               float32
	CarrierDopplerRateHzs          float32
	CodeFreqChips                  float32
	CodeFreqRateChips              float32
	CarrierErrorHz                 float32
	CarrierErrorFiltHz             float32
	CodeErrorChips                 float32
	CodeErrorFiltChips             float32
	CN0dBHz                        float32
	CarrierLockTest                float32
	RemCodePhaseSamples            float32
	CorrelationSamples             float64
	PRN                            uint32
}

// RecordSize is the encoded size of a Record [bytes]
var RecordSize = binary.Size(Record{})

// Options of a dump file
type Options struct {
	Path     string
	Compress bool // zstd frame stream
}

// Writer appends records to a file. It is safe for use by one tracker and
// a concurrent Close.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	bw  *bufio.Writer
	enc *zstd.Encoder
	w   io.Writer
	n   int
}

// Open creates the dump file of a channel
func Open(opts Options) (*Writer, error) {
	f, err := os.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	d := &Writer{f: f, bw: bufio.NewWriter(f)}
	d.w = d.bw
	if opts.Compress {
		enc, err := zstd.NewWriter(d.bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("dump: %w", err)
		}
		d.enc = enc
		d.w = enc
	}
	return d, nil
}

// PathFor returns the dump file name of a channel
func PathFor(prefix string, channel int, compress bool) string {
	p := fmt.Sprintf("%s%d.dat", prefix, channel)
	if compress {
		p += ".zst"
	}
	return p
}

// Write appends one record
func (d *Writer) Write(r Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrClosed
	}
	if err := binary.Write(d.w, binary.LittleEndian, &r); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	d.n++
	return nil
}

// Count returns the number of records written
func (d *Writer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// Close flushes and closes the file
func (d *Writer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	var errs []error
	if d.enc != nil {
		errs = append(errs, d.enc.Close())
	}
	errs = append(errs, d.bw.Flush(), d.f.Close())
	d.f = nil
	return errors.Join(errs...)
}

// Reader decodes a dump stream
type Reader struct {
	r   io.Reader
	dec *zstd.Decoder
}

// NewReader wraps r, compressed selects zstd decoding
func NewReader(r io.Reader, compressed bool) (*Reader, error) {
	if !compressed {
		return &Reader{r: bufio.NewReader(r)}, nil
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	return &Reader{r: dec, dec: dec}, nil
}

// Next returns the next record, io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := binary.Read(r.r, binary.LittleEndian, &rec)
	return rec, err
}

func (r *Reader) Close() {
	if r.dec != nil {
		r.dec.Close()
	}
}
