// Package demod recovers tag frames from the correlator output.
//
// Every correlator channel runs its own receiver: a moving sum over one
// symbol, an early-late gate for symbol timing, a decision-directed slicer
// that tracks the two backscatter states, and a 40-bit shift register that is
// searched for a preamble and CRC-checked on every decision. Channels share no
// state and may be processed concurrently.
package demod

import (
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"github.com/xiaogaogaoxiao/anyscatter/internal/correlator"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

// Errors returned by the demodulator.
var (
	ErrInvalidConfig = errors.New("demod: invalid configuration")
	ErrShortInput    = errors.New("demod: input shorter than requested ticks")
)

// Publisher receives accepted frames.
type Publisher interface {
	Publish(rec frame.Record) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(rec frame.Record) error

// Publish calls f(rec).
func (f PublisherFunc) Publish(rec frame.Record) error { return f(rec) }

// Demodulator runs one receiver per correlator channel.
type Demodulator struct {
	numAntennas int
	width       int
	pairs       int
	sps         int
	delta       int
	flushPeriod int

	channels []channel

	publisher Publisher
	observer  Observer
	logger    *log.Logger
	parallel  bool

	// parallel mode scratch
	events [][]event
	merged []event
}

// Option configures a Demodulator.
type Option func(*Demodulator)

// WithParallel processes channels on separate goroutines. Frames are still
// published in tick order, then channel order.
func WithParallel(enabled bool) Option {
	return func(d *Demodulator) {
		d.parallel = enabled
	}
}

// WithObserver registers an observer for receiver events.
func WithObserver(o Observer) Option {
	return func(d *Demodulator) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(d *Demodulator) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a demodulator for the N(N+1)/2 channels produced by a
// correlator over numAntennas antennas. symbolRate is the decimated tick rate
// and tagRate the tag's symbol rate. publisher may be nil.
func New(numAntennas int, symbolRate, tagRate float64, publisher Publisher, opts ...Option) (*Demodulator, error) {
	if numAntennas < 1 {
		return nil, fmt.Errorf("%w: need at least one antenna, got %d", ErrInvalidConfig, numAntennas)
	}
	if width := numAntennas * (numAntennas + 1) / 2; numAntennas > math.MaxUint16 || width-1 > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d antennas give %d channels, more than the record's channel field holds",
			ErrInvalidConfig, numAntennas, width)
	}
	if !(symbolRate > 0) || !(tagRate > 0) {
		return nil, fmt.Errorf("%w: rates must be positive (symbol %v, tag %v)", ErrInvalidConfig, symbolRate, tagRate)
	}

	sps := int(math.Round(symbolRate / tagRate))
	delta := int(math.Round(float64(sps) / 8))
	if delta < 1 {
		return nil, fmt.Errorf("%w: %d ticks per symbol leaves no room for the early-late gate (need at least 4)", ErrInvalidConfig, sps)
	}

	d := &Demodulator{
		numAntennas: numAntennas,
		width:       numAntennas * (numAntennas + 1) / 2,
		pairs:       numAntennas * (numAntennas - 1) / 2,
		sps:         sps,
		delta:       delta,
		flushPeriod: int(math.Ceil(symbolRate)),
		publisher:   publisher,
		observer:    nopObserver{},
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.channels = make([]channel, d.width)
	for i := range d.channels {
		d.channels[i] = newChannel(correlator.IsCross(i, numAntennas), sps, delta, d.flushPeriod)
	}
	if d.parallel {
		d.events = make([][]event, d.width)
	}

	d.logger.Debug("demodulator ready",
		"antennas", numAntennas, "channels", d.width,
		"sps", sps, "gate_delta", delta, "parallel", d.parallel)

	return d, nil
}

// SamplesPerSymbol returns sps, the decimated ticks per tag symbol.
func (d *Demodulator) SamplesPerSymbol() int { return d.sps }

// GateDelta returns the early/late offset in ticks.
func (d *Demodulator) GateDelta() int { return d.delta }

// Width returns the number of channels per tick.
func (d *Demodulator) Width() int { return d.width }

// NumAntennas returns N.
func (d *Demodulator) NumAntennas() int { return d.numAntennas }

// Parallel reports whether channels run concurrently.
func (d *Demodulator) Parallel() bool { return d.parallel }

// Work consumes n ticks of correlator output (n·V values, tick-major) and
// returns n. Accepted frames are published before Work returns.
func (d *Demodulator) Work(n int, in []complex64) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative tick count %d", ErrShortInput, n)
	}
	if len(in) < n*d.width {
		return 0, fmt.Errorf("%w: have %d values, need %d", ErrShortInput, len(in), n*d.width)
	}
	if n == 0 {
		return 0, nil
	}

	if d.parallel && d.width > 1 {
		d.workParallel(n, in)
	} else {
		d.workSequential(n, in)
	}

	d.observer.TicksProcessed(n)
	return n, nil
}

func (d *Demodulator) workSequential(n int, in []complex64) {
	for t := range n {
		row := in[t*d.width : (t+1)*d.width]
		for ch := range d.channels {
			if res := d.channels[ch].step(row[ch]); res.onTime && res.preamble {
				d.handle(ch, res)
			}
		}
	}
}

// handle reports a preamble hit and publishes the frame if it checks out.
func (d *Demodulator) handle(ch int, res result) {
	d.observer.PreambleDetected(ch, res.flipped)
	if !res.valid {
		d.observer.FrameRejected(ch)
		return
	}

	rec := frame.Record{
		Payload:     res.payload,
		Channel:     uint16(ch),
		NumAntennas: uint16(d.numAntennas),
	}
	d.observer.FrameAccepted(rec)

	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(rec); err != nil {
		d.logger.Warn("publish failed", "channel", correlator.ChannelName(ch, d.numAntennas), "err", err)
		d.observer.PublishFailed(ch, err)
	}
}

// Reset clears every channel back to its power-on state.
func (d *Demodulator) Reset() {
	for i := range d.channels {
		d.channels[i].reset()
	}
}
