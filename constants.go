package anyscatter

// Antenna limits
const (
	minAntennas = 1
	maxAntennas = 256 // 32896 channels; keeps Channel in a uint16
)

// Buffer constants
const (
	defaultBufferSize    = 8192 // carry buffer capacity in samples per antenna
	bufferSizeMultiplier = 2    // carry capacity relative to MaxInputSize
	iqComponents         = 2    // float32 values per interleaved complex sample
)

// Rates of the reference deployment: four antennas sampled at 50 MS/s,
// correlated down to 1 MS/s, with a tag switching at 62.5 kHz.
const (
	DefaultNumAntennas = 4
	DefaultSampleRate  = 50e6
	DefaultSymbolRate  = 1e6
	DefaultTagRate     = 62.5e3
)
