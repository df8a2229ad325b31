// Package correlator reduces N synchronous antenna streams to one vector of
// block-summed cross- and auto-correlations per decimation block.
//
// Output tick layout for N antennas: the P = N(N-1)/2 cross channels (i,j),
// i<j, in lexicographic order, then the N auto channels. Cross values are
// Σ a_i·conj(a_j) over the block; auto values are Σ |a_i|² with a zero
// imaginary part.
package correlator

import (
	"errors"
	"fmt"
	"math"

	"github.com/xiaogaogaoxiao/anyscatter/internal/simdops"
)

// Errors returned by the correlator.
var (
	ErrInvalidConfig = errors.New("correlator: invalid configuration")
	ErrAntennaCount  = errors.New("correlator: wrong number of antenna streams")
	ErrShortInput    = errors.New("correlator: input shorter than requested ticks")
	ErrShortOutput   = errors.New("correlator: output buffer too small")
	ErrBatchSize     = errors.New("correlator: batch length is not a multiple of the decimation factor")
)

// defaultScratchSamples sizes the per-antenna scratch when WithMaxTicks is not given.
const defaultScratchSamples = 8192

// Correlator is a stateless (between calls) block correlator. It owns its
// scratch buffers, so one instance must not be used from several goroutines
// at once.
type Correlator struct {
	numAntennas int
	decim       int
	width       int
	pairs       int
	maxTicks    int
	simd        bool
	ops         *simdops.Ops

	wide  [][]complex128 // widened antenna samples
	conj  [][]complex128 // widened, conjugated antenna samples
	prod  []complex128
	re    []float64
	im    []float64
	sumRe []float64
	sumIm []float64
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithMaxTicks bounds the number of ticks correlated per internal pass and
// therefore the scratch size. Larger requests are split transparently.
func WithMaxTicks(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.maxTicks = n
		}
	}
}

// WithSIMD selects the SIMD kernels (default) or the pure Go fallback.
func WithSIMD(enabled bool) Option {
	return func(c *Correlator) {
		c.simd = enabled
	}
}

// New creates a correlator for numAntennas streams sampled at sampleRate,
// decimated to symbolRate. The decimation factor is round(sampleRate/symbolRate).
func New(numAntennas int, sampleRate, symbolRate float64, opts ...Option) (*Correlator, error) {
	if numAntennas < 1 {
		return nil, fmt.Errorf("%w: need at least one antenna, got %d", ErrInvalidConfig, numAntennas)
	}
	if !(sampleRate > 0) || !(symbolRate > 0) {
		return nil, fmt.Errorf("%w: rates must be positive (sample %v, symbol %v)", ErrInvalidConfig, sampleRate, symbolRate)
	}

	decim := int(math.Round(sampleRate / symbolRate))
	if decim < 1 {
		return nil, fmt.Errorf("%w: symbol rate %v exceeds sample rate %v", ErrInvalidConfig, symbolRate, sampleRate)
	}

	c := &Correlator{
		numAntennas: numAntennas,
		decim:       decim,
		width:       numAntennas * (numAntennas + 1) / 2,
		pairs:       numAntennas * (numAntennas - 1) / 2,
		maxTicks:    max(1, defaultScratchSamples/decim),
		simd:        true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ops = simdops.For(c.simd)

	samples := c.maxTicks * decim
	c.wide = make([][]complex128, numAntennas)
	c.conj = make([][]complex128, numAntennas)
	for i := range c.wide {
		c.wide[i] = make([]complex128, samples)
		c.conj[i] = make([]complex128, samples)
	}
	c.prod = make([]complex128, samples)
	c.re = make([]float64, samples)
	c.im = make([]float64, samples)
	c.sumRe = make([]float64, c.maxTicks)
	c.sumIm = make([]float64, c.maxTicks)

	return c, nil
}

// NumAntennas returns N.
func (c *Correlator) NumAntennas() int { return c.numAntennas }

// Decimation returns R, the input samples consumed per output tick.
func (c *Correlator) Decimation() int { return c.decim }

// Width returns V = N(N+1)/2, the values produced per output tick.
func (c *Correlator) Width() int { return c.width }

// NumPairs returns P = N(N-1)/2, the number of cross channels.
func (c *Correlator) NumPairs() int { return c.pairs }

// SIMD reports whether the SIMD kernels are in use.
func (c *Correlator) SIMD() bool { return c.simd }

// Work correlates n ticks: it reads n·R samples from each of the N input
// streams and writes n·V values to out, tick-major. It returns n.
func (c *Correlator) Work(n int, in [][]complex64, out []complex64) (int, error) {
	if len(in) != c.numAntennas {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrAntennaCount, len(in), c.numAntennas)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative tick count %d", ErrShortInput, n)
	}
	for i, s := range in {
		if len(s) < n*c.decim {
			return 0, fmt.Errorf("%w: antenna %d has %d samples, need %d", ErrShortInput, i, len(s), n*c.decim)
		}
	}
	if len(out) < n*c.width {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrShortOutput, len(out), n*c.width)
	}

	for start := 0; start < n; start += c.maxTicks {
		c.correlate(start, min(c.maxTicks, n-start), in, out)
	}

	return n, nil
}

// Process correlates whole batches. Every stream must have the same length,
// an exact multiple of R; anything else is rejected with ErrBatchSize.
func (c *Correlator) Process(in [][]complex64) ([]complex64, error) {
	if len(in) != c.numAntennas {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrAntennaCount, len(in), c.numAntennas)
	}

	length := len(in[0])
	for i, s := range in {
		if len(s) != length {
			return nil, fmt.Errorf("%w: antenna %d has %d samples, antenna 0 has %d", ErrBatchSize, i, len(s), length)
		}
	}
	if length%c.decim != 0 {
		return nil, fmt.Errorf("%w: %d samples with decimation %d", ErrBatchSize, length, c.decim)
	}

	n := length / c.decim
	out := make([]complex64, n*c.width)
	if _, err := c.Work(n, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// correlate handles ticks [start, start+k) using the scratch buffers.
func (c *Correlator) correlate(start, k int, in [][]complex64, out []complex64) {
	r := c.decim
	l := k * r
	s0 := start * r

	for i, s := range in {
		simdops.Widen(c.wide[i][:l], s[s0:s0+l], false)
		simdops.Widen(c.conj[i][:l], s[s0:s0+l], true)
	}

	re, im := c.re[:l], c.im[:l]
	sumRe, sumIm := c.sumRe[:k], c.sumIm[:k]

	p := 0
	for i := 0; i < c.numAntennas; i++ {
		for j := i + 1; j < c.numAntennas; j++ {
			c.ops.Mul(c.prod[:l], c.wide[i][:l], c.conj[j][:l])
			simdops.Split(re, im, c.prod[:l])
			c.ops.BlockSums(sumRe, re, r)
			c.ops.BlockSums(sumIm, im, r)
			for t := range k {
				out[(start+t)*c.width+p] = complex(float32(sumRe[t]), float32(sumIm[t]))
			}
			p++
		}
	}

	for i := 0; i < c.numAntennas; i++ {
		simdops.Split(re, im, c.wide[i][:l])
		c.ops.BlockEnergy(sumRe, re, im, r)
		for t := range k {
			out[(start+t)*c.width+c.pairs+i] = complex(float32(sumRe[t]), 0)
		}
	}
}

// Pair maps an output channel index to its antenna pair. Auto channels
// return i == j.
func Pair(idx, numAntennas int) (i, j int) {
	pairs := numAntennas * (numAntennas - 1) / 2
	if idx >= pairs {
		a := idx - pairs
		return a, a
	}
	for i = 0; i < numAntennas; i++ {
		row := numAntennas - 1 - i
		if idx < row {
			return i, i + 1 + idx
		}
		idx -= row
	}
	return -1, -1
}

// PairIndex is the inverse of Pair for i < j.
func PairIndex(i, j, numAntennas int) int {
	return i*(2*numAntennas-i-1)/2 + (j - i - 1)
}

// IsCross reports whether idx is a cross-correlation channel.
func IsCross(idx, numAntennas int) bool {
	return idx < numAntennas*(numAntennas-1)/2
}

// ChannelName renders a channel as "x(i,j)" or "a(i)".
func ChannelName(idx, numAntennas int) string {
	i, j := Pair(idx, numAntennas)
	if i == j {
		return fmt.Sprintf("a(%d)", i)
	}
	return fmt.Sprintf("x(%d,%d)", i, j)
}
