package anyscatter

import (
	"testing"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/gen"
)

// BenchmarkProcessSequential benchmarks sequential channel demodulation.
func BenchmarkProcessSequential(b *testing.B) {
	benchmarkProcess(b, false, true)
}

// BenchmarkProcessParallel benchmarks parallel channel demodulation.
func BenchmarkProcessParallel(b *testing.B) {
	benchmarkProcess(b, true, true)
}

// BenchmarkProcessNoSIMD benchmarks the pure Go correlator.
func BenchmarkProcessNoSIMD(b *testing.B) {
	benchmarkProcess(b, false, false)
}

func benchmarkProcess(b *testing.B, parallel, simd bool) {
	b.Helper()

	const (
		antennas   = 4
		numSamples = 500_000 // 10 ms at 50 MS/s
	)

	cfg := DefaultConfig()
	cfg.EnableParallel = parallel
	cfg.EnableSIMD = simd
	cfg.MaxInputSize = numSamples

	rx, err := New(cfg, nil, WithLogger(quietLogger()))
	if err != nil {
		b.Fatalf("Failed to create receiver: %v", err)
	}

	g, err := gen.New(gen.Config{
		SampleRate: cfg.SampleRate,
		SymbolRate: cfg.SymbolRate,
		TagRate:    cfg.TagRate,
		Tag: gen.Tag{
			Idle: []complex64{1, 1i, -1, 0.5},
			Mod:  []complex64{0.1, 0.1i, -0.2, 0.3i},
		},
		NoiseStdDev: 0.05,
		Seed:        1,
	})
	if err != nil {
		b.Fatalf("Failed to create generator: %v", err)
	}
	payloads := make([]uint32, numSamples/g.SamplesPerBit()/frame.CodeBits+1)
	for i := range payloads {
		payloads[i] = uint32(i) * 0x1111
	}
	bits := gen.Frames(payloads, 0, 0)
	input := g.Samples(bits[:numSamples/g.SamplesPerBit()])

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := rx.Process(input); err != nil {
			b.Fatalf("Process failed: %v", err)
		}
		rx.Reset()
	}
}
