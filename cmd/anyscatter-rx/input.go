package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/xiaogaogaoxiao/anyscatter/internal/iq"
)

const bytesPerComponent = 4

// source yields blocks of per-antenna samples until io.EOF.
type source interface {
	Read(dst [][]complex64) (int, error)
	Close() error
}

// rawSource reads little-endian float32 samples interleaved as
// I0 Q0 I1 Q1 ... from a byte stream.
type rawSource struct {
	r           *bufio.Reader
	numAntennas int
	buf         []byte
	closer      io.Closer
}

func newRawSource(r io.Reader, numAntennas int) *rawSource {
	s := &rawSource{r: bufio.NewReaderSize(r, 1<<16), numAntennas: numAntennas}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *rawSource) Read(dst [][]complex64) (int, error) {
	if len(dst) != s.numAntennas {
		return 0, fmt.Errorf("raw input: %d destination slices for %d antennas", len(dst), s.numAntennas)
	}
	frameBytes := s.numAntennas * 2 * bytesPerComponent
	want := len(dst[0]) * frameBytes
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	got, err := io.ReadFull(s.r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("raw input: %w", err)
	}
	n := got / frameBytes
	if n == 0 {
		return 0, io.EOF
	}

	for i := range n {
		inst := buf[i*frameBytes:]
		for a := range s.numAntennas {
			off := a * 2 * bytesPerComponent
			re := math.Float32frombits(binary.LittleEndian.Uint32(inst[off:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(inst[off+bytesPerComponent:]))
			dst[a][i] = complex(re, im)
		}
	}
	return n, nil
}

func (s *rawSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// openWAV opens an IQ recording. scale 0 keeps full-scale PCM.
func openWAV(path string, scale float64) (*iq.Reader, error) {
	var opts []iq.Option
	if scale > 0 {
		opts = append(opts, iq.WithScale(scale))
	}
	return iq.Open(path, opts...)
}
