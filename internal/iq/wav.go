// Package iq stores multi-antenna complex baseband captures as PCM WAV
// files. Antenna k occupies channels 2k (in-phase) and 2k+1 (quadrature).
package iq

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM = 1

	bitsPerSample16 = 16
	bitsPerSample24 = 24
	bitsPerSample32 = 32

	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0

	// frames decoded per PCMBuffer call
	readFrames = 4096
)

var (
	// ErrFormat reports a file that is not a usable I/Q capture.
	ErrFormat = errors.New("iq: unsupported wav format")
	// ErrShape reports antenna slices of the wrong count or length.
	ErrShape = errors.New("iq: antenna slices do not match")
)

type options struct {
	bitDepth int
	scale    float64
}

// Option configures a Reader or Writer.
type Option func(*options)

// WithBitDepth selects 16, 24 or 32 bit PCM. The default is 16.
func WithBitDepth(bits int) Option {
	return func(o *options) { o.bitDepth = bits }
}

// WithScale sets the PCM count that represents 1.0. The default is the
// bit depth's full scale.
func WithScale(scale float64) Option {
	return func(o *options) { o.scale = scale }
}

func fullScale(bitDepth int) (float64, error) {
	switch bitDepth {
	case bitsPerSample16:
		return maxInt16, nil
	case bitsPerSample24:
		return maxInt24, nil
	case bitsPerSample32:
		return maxInt32, nil
	}
	return 0, fmt.Errorf("%w: %d-bit samples", ErrFormat, bitDepth)
}

func buildOptions(bitDepth int, opts []Option) (options, float64, error) {
	o := options{bitDepth: bitDepth}
	for _, opt := range opts {
		opt(&o)
	}
	peak, err := fullScale(o.bitDepth)
	if err != nil {
		return o, 0, err
	}
	if o.scale == 0 {
		o.scale = peak
	}
	if o.scale < 0 || math.IsNaN(o.scale) || math.IsInf(o.scale, 0) {
		return o, 0, fmt.Errorf("%w: scale %v", ErrFormat, o.scale)
	}
	return o, peak, nil
}

// Writer encodes antenna streams into an interleaved PCM WAV file.
type Writer struct {
	enc         *wav.Encoder
	numAntennas int
	scale       float64
	peak        float64
	buf         *audio.IntBuffer
	clipped     int
	file        io.Closer
}

// Create opens path for writing and starts a capture in it. Close also
// closes the file.
func Create(path string, sampleRate, numAntennas int, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("iq: create %s: %w", path, err)
	}
	w, err := NewWriter(f, sampleRate, numAntennas, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter starts a capture of numAntennas streams at sampleRate.
func NewWriter(w io.WriteSeeker, sampleRate, numAntennas int, opts ...Option) (*Writer, error) {
	if numAntennas < 1 || 2*numAntennas > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d antennas", ErrFormat, numAntennas)
	}
	if sampleRate <= 0 || int64(sampleRate) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrFormat, sampleRate)
	}
	o, peak, err := buildOptions(bitsPerSample16, opts)
	if err != nil {
		return nil, err
	}

	channels := 2 * numAntennas
	return &Writer{
		enc:         wav.NewEncoder(w, sampleRate, o.bitDepth, channels, wavFormatPCM),
		numAntennas: numAntennas,
		scale:       o.scale,
		peak:        peak,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: o.bitDepth,
		},
	}, nil
}

func (w *Writer) quantize(x float32) int {
	v := math.Round(float64(x) * w.scale)
	if v > w.peak {
		w.clipped++
		return int(w.peak)
	}
	if v < -w.peak {
		w.clipped++
		return int(-w.peak)
	}
	return int(v)
}

// Write appends one block. All antenna slices must have equal length.
func (w *Writer) Write(antennas [][]complex64) error {
	if len(antennas) != w.numAntennas {
		return fmt.Errorf("%w: got %d antennas, want %d", ErrShape, len(antennas), w.numAntennas)
	}
	n := len(antennas[0])
	for k, a := range antennas {
		if len(a) != n {
			return fmt.Errorf("%w: antenna %d has %d samples, want %d", ErrShape, k, len(a), n)
		}
	}
	if n == 0 {
		return nil
	}

	channels := 2 * w.numAntennas
	if cap(w.buf.Data) < n*channels {
		w.buf.Data = make([]int, n*channels)
	}
	data := w.buf.Data[:n*channels]
	for i := range n {
		row := data[i*channels : (i+1)*channels]
		for k, a := range antennas {
			row[2*k] = w.quantize(real(a[i]))
			row[2*k+1] = w.quantize(imag(a[i]))
		}
	}
	w.buf.Data = data

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("iq: write samples: %w", err)
	}
	return nil
}

// Clipped returns the number of components saturated so far.
func (w *Writer) Clipped() int { return w.clipped }

// Close finalises the WAV header. Writers from NewWriter leave the
// underlying writer open.
func (w *Writer) Close() error {
	err := w.enc.Close()
	if err != nil {
		err = fmt.Errorf("iq: finalise wav: %w", err)
	}
	if w.file != nil {
		err = errors.Join(err, w.file.Close())
		w.file = nil
	}
	return err
}

// Reader decodes an I/Q WAV capture back into antenna streams.
type Reader struct {
	dec         *wav.Decoder
	numAntennas int
	sampleRate  int
	scale       float64
	buf         *audio.IntBuffer
	pending     []int
	eof         bool
	file        io.Closer
}

// Open reads the capture at path.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("iq: open %s: %w", path, err)
	}
	r, err := NewReader(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.file = f
	return r, nil
}

// Close releases the file opened by Open.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// NewReader validates the header of r. The file must have an even channel
// count. WithBitDepth is ignored; the file's own depth is used.
func NewReader(r io.ReadSeeker, opts ...Option) (*Reader, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a PCM wav file", ErrFormat)
	}
	channels := int(dec.NumChans)
	if channels == 0 || channels%2 != 0 {
		return nil, fmt.Errorf("%w: %d channels is not an I/Q layout", ErrFormat, channels)
	}

	bitDepth := int(dec.BitDepth)
	o, _, err := buildOptions(bitDepth, append(opts[:len(opts):len(opts)], WithBitDepth(bitDepth)))
	if err != nil {
		return nil, err
	}

	format := dec.Format()
	return &Reader{
		dec:         dec,
		numAntennas: channels / 2,
		sampleRate:  int(dec.SampleRate),
		scale:       o.scale,
		buf: &audio.IntBuffer{
			Format: format,
			Data:   make([]int, readFrames*channels),
		},
	}, nil
}

// NumAntennas returns half the file's channel count.
func (r *Reader) NumAntennas() int { return r.numAntennas }

// SampleRate returns the capture rate in Hz.
func (r *Reader) SampleRate() int { return r.sampleRate }

func (r *Reader) fill(samples int) error {
	for !r.eof && len(r.pending) < samples {
		r.buf.Data = r.buf.Data[:cap(r.buf.Data)]
		n, err := r.dec.PCMBuffer(r.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("iq: read samples: %w", err)
		}
		if n == 0 {
			r.eof = true
			break
		}
		r.pending = append(r.pending, r.buf.Data[:n]...)
	}
	return nil
}

// Read fills dst[k][:n] for every antenna and returns n. It returns io.EOF
// once no whole sample is left.
func (r *Reader) Read(dst [][]complex64) (int, error) {
	if len(dst) != r.numAntennas {
		return 0, fmt.Errorf("%w: got %d antennas, want %d", ErrShape, len(dst), r.numAntennas)
	}
	want := len(dst[0])
	for k, d := range dst {
		if len(d) != want {
			return 0, fmt.Errorf("%w: antenna %d has room for %d samples, want %d", ErrShape, k, len(d), want)
		}
	}

	channels := 2 * r.numAntennas
	if err := r.fill(want * channels); err != nil {
		return 0, err
	}

	n := min(want, len(r.pending)/channels)
	if n == 0 {
		return 0, io.EOF
	}
	for i := range n {
		row := r.pending[i*channels : (i+1)*channels]
		for k := range dst {
			dst[k][i] = complex(float32(float64(row[2*k])/r.scale), float32(float64(row[2*k+1])/r.scale))
		}
	}
	r.pending = r.pending[:copy(r.pending, r.pending[n*channels:])]
	return n, nil
}

// ReadAll decodes the remainder of the capture.
func (r *Reader) ReadAll() ([][]complex64, error) {
	out := make([][]complex64, r.numAntennas)
	block := make([][]complex64, r.numAntennas)
	for k := range block {
		block[k] = make([]complex64, readFrames)
	}
	for {
		n, err := r.Read(block)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for k := range out {
			out[k] = append(out[k], block[k][:n]...)
		}
	}
}
