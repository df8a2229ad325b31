// Package gen synthesises multi-antenna baseband captures of a backscatter
// tag sending framed code words. It backs the anyscatter-gen tool and the
// end-to-end tests.
package gen

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

// ErrInvalidConfig is wrapped by every construction error.
var ErrInvalidConfig = errors.New("gen: invalid configuration")

const twoPi = 2 * math.Pi

// Tag describes what each antenna sees. With the tag idle antenna i receives
// Idle[i]; while the tag reflects it receives Idle[i] + Mod[i].
type Tag struct {
	Idle []complex64
	Mod  []complex64
}

// Config sets the rates and impairments of a Generator.
type Config struct {
	SampleRate float64
	SymbolRate float64
	TagRate    float64
	Tag        Tag

	// CarrierOffset rotates every antenna by the same residual carrier, in Hz.
	CarrierOffset float64
	// NoiseStdDev is the standard deviation of white noise per I/Q component.
	NoiseStdDev float64
	// Seed selects the noise sequence.
	Seed uint64
}

// Generator renders code bits into antenna streams. The carrier phase and
// noise source run on across calls.
type Generator struct {
	cfg           Config
	samplesPerBit int
	step          float64
	phase         float64
	noise         *distuv.Normal
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if len(cfg.Tag.Idle) == 0 || len(cfg.Tag.Idle) != len(cfg.Tag.Mod) {
		return nil, fmt.Errorf("%w: tag needs one idle and one modulation gain per antenna", ErrInvalidConfig)
	}
	if cfg.SampleRate <= 0 || cfg.SymbolRate <= 0 || cfg.TagRate <= 0 {
		return nil, fmt.Errorf("%w: rates must be positive", ErrInvalidConfig)
	}
	if cfg.NoiseStdDev < 0 {
		return nil, fmt.Errorf("%w: negative noise level", ErrInvalidConfig)
	}

	decim := int(math.Round(cfg.SampleRate / cfg.SymbolRate))
	sps := int(math.Round(cfg.SymbolRate / cfg.TagRate))
	if decim < 1 || sps < 1 {
		return nil, fmt.Errorf("%w: rates %v/%v/%v give less than one sample per bit",
			ErrInvalidConfig, cfg.SampleRate, cfg.SymbolRate, cfg.TagRate)
	}

	g := &Generator{
		cfg:           cfg,
		samplesPerBit: decim * sps,
		step:          twoPi * cfg.CarrierOffset / cfg.SampleRate,
	}
	if cfg.NoiseStdDev > 0 {
		g.noise = &distuv.Normal{
			Mu:    0,
			Sigma: cfg.NoiseStdDev,
			Src:   rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		}
	}
	return g, nil
}

// NumAntennas returns the number of rendered streams.
func (g *Generator) NumAntennas() int { return len(g.cfg.Tag.Idle) }

// SamplesPerBit returns the input samples one tag bit is held for.
func (g *Generator) SamplesPerBit() int { return g.samplesPerBit }

// Frames lays out one code word per payload, preceded by idle zero bits,
// followed by gap zero bits each and a final idle stretch.
func Frames(payloads []uint32, idle, gap int) []byte {
	bits := make([]byte, idle, 2*idle+len(payloads)*(frame.CodeBits+gap))
	for _, data := range payloads {
		bits = append(bits, frame.Encode(frame.Build(data))...)
		bits = append(bits, make([]byte, gap)...)
	}
	return append(bits, make([]byte, idle)...)
}

// Samples renders bits, each held for SamplesPerBit samples.
func (g *Generator) Samples(bits []byte) [][]complex64 {
	out := g.alloc(len(bits) * g.samplesPerBit)
	pos := 0
	for _, b := range bits {
		for range g.samplesPerBit {
			g.render(out, pos, b&1 == 1)
			pos++
		}
	}
	return out
}

// Silence renders n samples with the tag idle.
func (g *Generator) Silence(n int) [][]complex64 {
	out := g.alloc(n)
	for i := range n {
		g.render(out, i, false)
	}
	return out
}

func (g *Generator) alloc(n int) [][]complex64 {
	out := make([][]complex64, g.NumAntennas())
	for k := range out {
		out[k] = make([]complex64, n)
	}
	return out
}

func (g *Generator) render(out [][]complex64, i int, reflect bool) {
	carrier := complex64(1)
	if g.step != 0 {
		s, c := math.Sincos(g.phase)
		carrier = complex(float32(c), float32(s))
		g.phase += g.step
		if g.phase > twoPi {
			g.phase -= twoPi
		} else if g.phase < -twoPi {
			g.phase += twoPi
		}
	}

	for k := range out {
		v := g.cfg.Tag.Idle[k]
		if reflect {
			v += g.cfg.Tag.Mod[k]
		}
		v *= carrier
		if g.noise != nil {
			v += complex(float32(g.noise.Rand()), float32(g.noise.Rand()))
		}
		out[k][i] = v
	}
}
