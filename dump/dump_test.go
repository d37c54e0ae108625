package dump

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSize(t *testing.T) {
	// 19 float32, one uint64, one float64, one uint32
	assert.Equal(t, 19*4+8+8+4, RecordSize)
}

func TestWriteRead(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "trk")
		path = PathFor(path, 2, compress)
		w, err := Open(Options{Path: path, Compress: compress})
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			require.NoError(t, w.Write(Record{SampleCounter: uint64(i * 2048), CN0dBHz: 45, PRN: 7}))
		}
		assert.Equal(t, 10, w.Count())
		require.NoError(t, w.Close())
		assert.ErrorIs(t, w.Write(Record{}), ErrClosed)

		f, err := os.Open(path)
		require.NoError(t, err)
		r, err := NewReader(f, compress)
		require.NoError(t, err)
		var got []Record
		for {
			rec, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, rec)
		}
		r.Close()
		f.Close()
		require.Len(t, got, 10)
		assert.Equal(t, uint64(9*2048), got[9].SampleCounter)
		assert.Equal(t, uint32(7), got[0].PRN)
	}
}

func TestOpenFailure(t *testing.T) {
	_, err := Open(Options{Path: filepath.Join(t.TempDir(), "missing", "x.dat")})
	assert.Error(t, err)
}
