package anyscatter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/xiaogaogaoxiao/anyscatter/internal/correlator"
	"github.com/xiaogaogaoxiao/anyscatter/internal/demod"
	"github.com/xiaogaogaoxiao/anyscatter/internal/pipeline"
	"github.com/xiaogaogaoxiao/anyscatter/internal/simdops"
)

// Receiver correlates antenna batches and demodulates every channel,
// publishing decoded frames to its sink. Batches need not be a multiple of
// the decimation factor; leftover samples are carried into the next call.
//
// A Receiver is safe for concurrent use, but batches from different
// goroutines are processed in whatever order they acquire it.
type Receiver struct {
	mu     sync.Mutex
	config Config
	logger *log.Logger

	corr *correlator.Correlator
	dem  *demod.Demodulator
	sink Sink

	carry   []*pipeline.RingBuffer // per antenna, always < decimation samples between calls
	block   [][]complex64          // aligned input handed to the correlator
	split   [][]complex64          // deinterleave scratch
	corrOut []complex64

	closed bool
}

// New creates a receiver that publishes to s. s may be nil to discard
// records. If construction fails, s is closed before returning.
func New(cfg *Config, s Sink, opts ...Option) (r *Receiver, err error) {
	defer func() {
		if err != nil && s != nil {
			err = errors.Join(err, s.Close())
		}
	}()

	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	corr, err := correlator.New(cfg.NumAntennas, cfg.SampleRate, cfg.SymbolRate,
		correlator.WithSIMD(cfg.EnableSIMD))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	dopts := []demod.Option{
		demod.WithParallel(cfg.EnableParallel),
		demod.WithLogger(o.logger),
	}
	if len(o.observers) > 0 {
		dopts = append(dopts, demod.WithObserver(o.observers))
	}
	dem, err := demod.New(cfg.NumAntennas, cfg.SymbolRate, cfg.TagRate, s, dopts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	capacity := defaultBufferSize
	if cfg.MaxInputSize > 0 {
		capacity = cfg.MaxInputSize * bufferSizeMultiplier
	}
	carry := make([]*pipeline.RingBuffer, cfg.NumAntennas)
	for i := range carry {
		carry[i] = pipeline.NewRingBuffer(capacity)
	}

	r = &Receiver{
		config: *cfg,
		logger: o.logger,
		corr:   corr,
		dem:    dem,
		sink:   s,
		carry:  carry,
		block:  make([][]complex64, cfg.NumAntennas),
		split:  make([][]complex64, cfg.NumAntennas),
	}

	r.logger.Info("receiver ready",
		"antennas", cfg.NumAntennas,
		"channels", corr.Width(),
		"decimation", corr.Decimation(),
		"sps", dem.SamplesPerSymbol(),
		"simd", corr.SIMD())
	return r, nil
}

// Process feeds one batch per antenna (all the same length) and returns the
// number of correlator ticks demodulated.
func (r *Receiver) Process(antennas [][]complex64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if len(antennas) != r.config.NumAntennas {
		return 0, fmt.Errorf("%w: got %d antennas, want %d", ErrInputShape, len(antennas), r.config.NumAntennas)
	}
	n := len(antennas[0])
	for i, a := range antennas {
		if len(a) != n {
			return 0, fmt.Errorf("%w: antenna %d has %d samples, antenna 0 has %d", ErrInputShape, i, len(a), n)
		}
	}
	return r.process(antennas)
}

// ProcessInterleaved feeds samples laid out as I0 Q0 I1 Q1 ... per time
// step. The length must be a multiple of 2·NumAntennas.
func (r *Receiver) ProcessInterleaved(iq []float32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	stride := iqComponents * r.config.NumAntennas
	if len(iq)%stride != 0 {
		return 0, fmt.Errorf("%w: %d values is not a multiple of %d", ErrInputShape, len(iq), stride)
	}

	n := len(iq) / stride
	for k := range r.split {
		if cap(r.split[k]) < n {
			r.split[k] = make([]complex64, n)
		}
		r.split[k] = r.split[k][:n]
	}
	for i := range n {
		row := iq[i*stride : (i+1)*stride]
		for k := range r.split {
			r.split[k][i] = complex(row[iqComponents*k], row[iqComponents*k+1])
		}
	}
	return r.process(r.split)
}

// process runs with r.mu held.
func (r *Receiver) process(antennas [][]complex64) (int, error) {
	decim := r.corr.Decimation()
	for k, a := range antennas {
		r.carry[k].Write(a)
	}

	ticks := r.carry[0].Available() / decim
	if ticks == 0 {
		return 0, nil
	}

	samples := ticks * decim
	for k := range r.block {
		if cap(r.block[k]) < samples {
			r.block[k] = make([]complex64, samples)
		}
		r.block[k] = r.block[k][:samples]
		r.carry[k].ReadInto(r.block[k])
	}

	width := r.corr.Width()
	if cap(r.corrOut) < ticks*width {
		r.corrOut = make([]complex64, ticks*width)
	}
	out := r.corrOut[:ticks*width]

	if _, err := r.corr.Work(ticks, r.block, out); err != nil {
		return 0, fmt.Errorf("correlate: %w", err)
	}
	if _, err := r.dem.Work(ticks, out); err != nil {
		return 0, fmt.Errorf("demodulate: %w", err)
	}
	return ticks, nil
}

// Buffered returns the number of samples per antenna carried to the next
// call.
func (r *Receiver) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carry[0].Available()
}

// Reset drops carried samples and returns every channel to its initial state.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.carry {
		b.Clear()
	}
	r.dem.Reset()
}

// Close closes the sink. Further calls to Process fail with ErrClosed.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.sink == nil {
		return nil
	}
	return r.sink.Close()
}

// Info returns the derived receiver parameters.
func (r *Receiver) Info() Info {
	info := Info{
		Decimation:       r.corr.Decimation(),
		SamplesPerSymbol: r.dem.SamplesPerSymbol(),
		GateDelta:        r.dem.GateDelta(),
		Channels:         r.corr.Width(),
		Parallel:         r.dem.Parallel(),
		SIMDEnabled:      r.corr.SIMD(),
		SIMDType:         "none",
	}
	if info.SIMDEnabled {
		info.SIMDType = simdops.Info()
	}
	return info
}
