package anyscatter

import (
	"errors"

	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

// Decode runs a fresh receiver over a complete capture and returns every
// record it accepted, in publish order.
func Decode(cfg *Config, antennas [][]complex64, opts ...Option) ([]Record, error) {
	collector := &sink.Collector{}
	rx, err := New(cfg, collector, opts...)
	if err != nil {
		return nil, err
	}
	_, err = rx.Process(antennas)
	return collector.Records(), errors.Join(err, rx.Close())
}

// DecodeInterleaved is like Decode for I0 Q0 I1 Q1 ... interleaved samples.
func DecodeInterleaved(cfg *Config, iq []float32, opts ...Option) ([]Record, error) {
	collector := &sink.Collector{}
	rx, err := New(cfg, collector, opts...)
	if err != nil {
		return nil, err
	}
	_, err = rx.ProcessInterleaved(iq)
	return collector.Records(), errors.Join(err, rx.Close())
}

// NewTwoAntenna creates a receiver for the smallest array that yields a
// cross channel: two antennas, three channels.
func NewTwoAntenna(sampleRate, symbolRate, tagRate float64, s Sink, opts ...Option) (*Receiver, error) {
	return New(&Config{
		NumAntennas: 2,
		SampleRate:  sampleRate,
		SymbolRate:  symbolRate,
		TagRate:     tagRate,
		EnableSIMD:  true,
	}, s, opts...)
}
