// Package anyscatter decodes backscatter tags from multi-antenna baseband
// captures.
//
// A passive tag toggles its antenna impedance, which changes the channel
// between a carrier and every receive antenna. Those changes show up in the
// pairwise correlations of the antenna streams even when no single antenna
// sees them clearly. The receiver correlates every antenna pair, treats each
// correlation as an independent side channel and runs a full demodulator on
// each one.
//
// # Features
//
//   - Block correlator producing N(N+1)/2 channels for N antennas
//   - Optional SIMD kernels (AVX2/SSE/NEON) via github.com/tphakala/simd
//   - Early-late gate symbol timing and decision-directed level tracking
//   - 40-bit framing with preamble search in both polarities and CRC-8
//   - Concurrent per-channel demodulation with deterministic record order
//   - Streaming API with sample carry between arbitrary batch sizes
//
// # Quick Start
//
// For one-shot decoding of a capture held in memory:
//
//	records, err := anyscatter.Decode(anyscatter.DefaultConfig(), antennas)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For streaming decoding with a reusable receiver:
//
//	cfg := &anyscatter.Config{
//	    NumAntennas: 4,
//	    SampleRate:  50e6,
//	    SymbolRate:  1e6,
//	    TagRate:     62.5e3,
//	    EnableSIMD:  true,
//	}
//	rx, err := anyscatter.New(cfg, mySink)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rx.Close()
//
//	for batch := range batches {
//	    if _, err := rx.Process(batch); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Channels
//
// Correlator channels are ordered with the cross products first, pairs
// (i, j) with i < j in lexicographic order, followed by the N antenna
// energies. [ChannelName] renders an index as "x(i,j)" or "a(i)". Every
// [Record] carries the channel index it was decoded on.
//
// # Wire Format
//
// [Record.MarshalBinary] produces 8 bytes: the four payload bytes (0xA
// preamble nibble, 20 data bits, CRC-8), then the channel index and the
// antenna count as little-endian uint16.
//
// # Tools
//
// cmd/anyscatter-rx runs a receiver over an IQ WAV capture or raw float32
// samples on stdin and publishes to MQTT, websocket clients or a file.
// cmd/anyscatter-gen writes synthetic captures and cmd/anyscatter-sub prints
// records from MQTT.
//
// # Thread Safety
//
// A [Receiver] serialises calls internally. Records are published from the
// goroutine that called [Receiver.Process], in (tick, channel) order,
// whether or not EnableParallel is set.
package anyscatter
