// Command anyscatter-gen writes a synthetic multi-antenna IQ capture of a
// backscatter tag sending 20-bit data words.
//
// Usage:
//
//	anyscatter-gen -r 32000 -s 16000 -t 1000 -d 12345 tag.wav
//	anyscatter-gen --idle 1,1,0.5+0.5i --mod=-1+1i,0.25,-0.5i --noise 0.1 -d 12345,beef1 tag.wav
//
// Each antenna occupies two WAV channels, I then Q.
package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/xiaogaogaoxiao/anyscatter/internal/config"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/gen"
	"github.com/xiaogaogaoxiao/anyscatter/internal/iq"
)

func main() {
	err := run(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

// parseWords parses hexadecimal data words, each at most 20 bits.
func parseWords(words []string) ([]uint32, error) {
	out := make([]uint32, 0, len(words))
	for _, w := range words {
		w = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(w)), "0x")
		v, err := strconv.ParseUint(w, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("data word %q: %w", w, err)
		}
		if v >= 1<<frame.DataBits {
			return nil, fmt.Errorf("data word %#x exceeds %d bits", v, frame.DataBits)
		}
		out = append(out, uint32(v))
	}
	if len(out) == 0 {
		return nil, errors.New("no data words")
	}
	return out, nil
}

// parseGains parses one complex gain per antenna, e.g. "1,-1+1i,0.5i".
func parseGains(values []string) ([]complex64, error) {
	out := make([]complex64, len(values))
	for i, v := range values {
		c, err := strconv.ParseComplex(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("gain %q: %w", v, err)
		}
		out[i] = complex64(c)
	}
	return out, nil
}

func run(args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("anyscatter-gen", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	sampleRate := fs.Float64P("sample-rate", "r", config.DefaultSampleRate, "Antenna sample rate in Hz. Must be a whole number.")
	symbolRate := fs.Float64P("symbol-rate", "s", config.DefaultSymbolRate, "Correlator output rate in Hz.")
	tagRate := fs.Float64P("tag-rate", "t", config.DefaultTagRate, "Tag bit rate in Hz.")
	data := fs.StringSliceP("data", "d", []string{"12345"}, "20-bit data words in hex.")
	repeat := fs.Int("repeat", 4, "Times each data word is sent.")
	idleBits := fs.Int("idle-bits", 64, "Idle tag bits before the first and after the last frame.")
	gapBits := fs.Int("gap-bits", 8, "Idle tag bits after every frame.")
	lead := fs.Int("lead", 0, "Idle samples before the first bit.")
	idle := fs.StringSlice("idle", []string{"1", "1"}, "Complex gain per antenna with the tag idle.")
	mod := fs.StringSlice("mod", []string{"-1+1i", "0"}, "Complex gain change per antenna while the tag reflects.")
	offset := fs.Float64("offset", 0, "Residual carrier offset in Hz.")
	noise := fs.Float64("noise", 0, "Noise standard deviation per I/Q component.")
	seed := fs.Uint64("seed", 1, "Noise seed.")
	bitDepth := fs.Int("bit-depth", 16, "PCM bit depth: 16, 24 or 32.")
	scale := fs.Float64("scale", 0, "PCM count that represents 1.0. 0 means full scale.")
	logLevel := fs.StringP("log-level", "l", config.DefaultLogLevel, "Log level: debug, info, warn, error.")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: anyscatter-gen [options] output.wav\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one output file required")
	}
	outPath := fs.Arg(0)

	logger := log.NewWithOptions(stderr, log.Options{Prefix: "anyscatter-gen"})
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", *logLevel, err)
	}
	logger.SetLevel(level)

	words, err := parseWords(*data)
	if err != nil {
		return err
	}
	for _, w := range words {
		if !frame.Decodable(w) {
			logger.Warn("data word has a five-symbol run and will not be decoded",
				"data", fmt.Sprintf("%#05x", w), "run", frame.LongestRun(frame.Encode(frame.Build(w))))
		}
	}
	idleGains, err := parseGains(*idle)
	if err != nil {
		return err
	}
	modGains, err := parseGains(*mod)
	if err != nil {
		return err
	}
	if *sampleRate != math.Trunc(*sampleRate) || *sampleRate > math.MaxInt32 {
		return fmt.Errorf("sample rate %v cannot be stored in a WAV header", *sampleRate)
	}
	if *repeat < 1 || *idleBits < 0 || *gapBits < 0 || *lead < 0 {
		return errors.New("repeat must be positive and idle, gap and lead must not be negative")
	}

	g, err := gen.New(gen.Config{
		SampleRate:    *sampleRate,
		SymbolRate:    *symbolRate,
		TagRate:       *tagRate,
		Tag:           gen.Tag{Idle: idleGains, Mod: modGains},
		CarrierOffset: *offset,
		NoiseStdDev:   *noise,
		Seed:          *seed,
	})
	if err != nil {
		return err
	}

	payloads := make([]uint32, 0, len(words)*(*repeat))
	for _, w := range words {
		for range *repeat {
			payloads = append(payloads, w)
		}
	}

	opts := []iq.Option{iq.WithBitDepth(*bitDepth)}
	if *scale > 0 {
		opts = append(opts, iq.WithScale(*scale))
	}
	w, err := iq.Create(outPath, int(*sampleRate), g.NumAntennas(), opts...)
	if err != nil {
		return err
	}

	if *lead > 0 {
		if err := w.Write(g.Silence(*lead)); err != nil {
			return errors.Join(err, w.Close())
		}
	}
	body := g.Samples(gen.Frames(payloads, *idleBits, *gapBits))
	if err := w.Write(body); err != nil {
		return errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return err
	}

	if w.Clipped() > 0 {
		logger.Warn("samples clipped; lower the gains or raise --scale", "clipped", w.Clipped())
	}
	logger.Info("wrote capture",
		"path", outPath,
		"antennas", g.NumAntennas(),
		"samples", *lead+len(body[0]),
		"frames", len(payloads),
		"samples_per_bit", g.SamplesPerBit())
	return nil
}
