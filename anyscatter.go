package anyscatter

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/xiaogaogaoxiao/anyscatter/internal/correlator"
	"github.com/xiaogaogaoxiao/anyscatter/internal/demod"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

// Record is one decoded frame: four payload bytes, the correlator channel it
// was found on and the antenna count. It marshals to the 8-byte wire layout.
type Record = frame.Record

// Sink receives accepted records. Publish is called synchronously from
// Process; Close is called once by Receiver.Close.
type Sink = sink.Sink

// Observer is notified of framing events for every channel.
type Observer = demod.Observer

// Config holds receiver configuration.
type Config struct {
	// NumAntennas is the number of synchronously sampled antenna streams.
	NumAntennas int

	// SampleRate is the antenna sample rate in Hz.
	SampleRate float64

	// SymbolRate is the correlator output rate in Hz. The decimation factor
	// is round(SampleRate/SymbolRate).
	SymbolRate float64

	// TagRate is the tag's bit rate in Hz. round(SymbolRate/TagRate) must be
	// at least 4 for the early-late gate to have room.
	TagRate float64

	// MaxInputSize hints at the largest batch, per antenna, passed to Process.
	// Set to 0 to use default buffer sizes.
	MaxInputSize int

	// EnableSIMD allows the use of SIMD kernels in the correlator.
	// Set to false to force pure Go arithmetic.
	EnableSIMD bool

	// EnableParallel demodulates correlator channels concurrently.
	// Records are published in the same order as with sequential processing.
	EnableParallel bool
}

// Common errors returned by the receiver.
var (
	// ErrInvalidConfig indicates invalid configuration parameters.
	ErrInvalidConfig = errors.New("invalid receiver configuration")

	// ErrInputShape indicates antenna batches of the wrong count or length.
	ErrInputShape = errors.New("input does not match antenna layout")

	// ErrClosed is returned by Process after Close.
	ErrClosed = errors.New("receiver closed")
)

// DefaultConfig returns the reference deployment's parameters.
func DefaultConfig() *Config {
	return &Config{
		NumAntennas: DefaultNumAntennas,
		SampleRate:  DefaultSampleRate,
		SymbolRate:  DefaultSymbolRate,
		TagRate:     DefaultTagRate,
		EnableSIMD:  true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.NumAntennas < minAntennas {
		return fmt.Errorf("%w: need at least %d antenna", ErrInvalidConfig, minAntennas)
	}
	if c.NumAntennas > maxAntennas {
		return fmt.Errorf("%w: too many antennas (max %d)", ErrInvalidConfig, maxAntennas)
	}
	if c.SampleRate <= 0 || c.SymbolRate <= 0 || c.TagRate <= 0 {
		return fmt.Errorf("%w: rates must be positive", ErrInvalidConfig)
	}
	if c.MaxInputSize < 0 {
		return fmt.Errorf("%w: negative MaxInputSize", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Receiver.
type Option func(*options)

type options struct {
	logger    *log.Logger
	observers demod.Observers
}

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// ChannelName returns the label of correlator channel idx: "x(i,j)" for the
// cross product of antennas i and j, "a(i)" for the energy of antenna i.
func ChannelName(idx, numAntennas int) string {
	return correlator.ChannelName(idx, numAntennas)
}

// NumChannels returns N(N+1)/2, the correlator width for n antennas.
func NumChannels(numAntennas int) int {
	return numAntennas * (numAntennas + 1) / 2
}

// Info describes a configured receiver.
type Info struct {
	// Decimation is the number of input samples per correlator tick.
	Decimation int

	// SamplesPerSymbol is the number of ticks per tag bit.
	SamplesPerSymbol int

	// GateDelta is the early/late offset of the timing gate in ticks.
	GateDelta int

	// Channels is the correlator width.
	Channels int

	// Parallel reports concurrent channel demodulation.
	Parallel bool

	// SIMDEnabled indicates if SIMD kernels are active.
	SIMDEnabled bool

	// SIMDType describes the instruction set detected at startup.
	SIMDType string
}
