// Command anyscatter-rx demodulates backscatter tags from a multi-antenna IQ
// capture and publishes every accepted frame.
//
// Usage:
//
//	anyscatter-rx -i capture.wav --stdout
//	anyscatter-rx -c rx.yaml --mqtt-broker tcp://localhost:1883 < samples.f32
//	sdr-source | anyscatter-rx -n 4 -r 50e6 --websocket :8080 --metrics :9090
//
// Without -i, samples are read from stdin as little-endian float32 values
// interleaved I0 Q0 I1 Q1 ... per sample instant. A WAV input supplies its
// own antenna count and sample rate.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/xiaogaogaoxiao/anyscatter"
	"github.com/xiaogaogaoxiao/anyscatter/internal/config"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
	"github.com/xiaogaogaoxiao/anyscatter/internal/metrics"
	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

const (
	defaultChunk   = 65536 // samples per antenna per read
	fileBufferSize = 64 * 1024
	stdinInput     = "-"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

// options are the command-line settings that are not part of config.Config.
type options struct {
	input  string
	scale  float64
	chunk  int
	stdout bool
	stay   bool

	// explicit records flags given on the command line, by name.
	explicit map[string]bool
}

func parseArgs(args []string, stderr io.Writer) (*config.Config, *options, error) {
	fs := pflag.NewFlagSet("anyscatter-rx", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{explicit: make(map[string]bool)}
	configPath := fs.StringP("config", "c", "", "YAML configuration file.")
	fs.StringVarP(&opts.input, "input", "i", stdinInput, "IQ WAV capture, or - for raw float32 on stdin.")
	fs.Float64Var(&opts.scale, "scale", 0, "PCM count that represents 1.0 in a WAV capture. 0 means full scale.")
	fs.IntVar(&opts.chunk, "chunk", defaultChunk, "Samples per antenna read at a time.")
	fs.BoolVar(&opts.stdout, "stdout", false, "Print every frame to stdout as text.")
	fs.BoolVar(&opts.stay, "stay", false, "Keep serving websocket and metrics after the input ends, until interrupted.")

	antennas := fs.IntP("antennas", "n", config.DefaultAntennas, "Number of antennas in raw input.")
	sampleRate := fs.Float64P("sample-rate", "r", config.DefaultSampleRate, "Antenna sample rate in Hz.")
	symbolRate := fs.Float64P("symbol-rate", "s", config.DefaultSymbolRate, "Correlator output rate in Hz.")
	tagRate := fs.Float64P("tag-rate", "t", config.DefaultTagRate, "Tag bit rate in Hz.")
	simd := fs.Bool("simd", true, "Use SIMD kernels in the correlator.")
	parallel := fs.Bool("parallel", false, "Demodulate channels concurrently.")
	mqttBroker := fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883.")
	mqttTopic := fs.String("mqtt-topic", sink.DefaultTopic, "MQTT topic for frames.")
	wsListen := fs.String("websocket", "", "Listen address for the websocket frame feed.")
	output := fs.StringP("output", "o", "", "Append frames to this file.")
	text := fs.Bool("text", false, "Write the output file as text lines instead of 8-byte records.")
	metricsListen := fs.String("metrics", "", "Listen address for Prometheus metrics.")
	logLevel := fs.StringP("log-level", "l", config.DefaultLogLevel, "Log level: debug, info, warn, error.")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: anyscatter-rx [options]\n\n")
		fmt.Fprintf(stderr, "Demodulates backscatter tags and publishes each accepted frame.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.chunk < 1 {
		return nil, nil, fmt.Errorf("--chunk must be positive, got %d", opts.chunk)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}

	overrides := map[string]func(){
		"antennas":    func() { cfg.Radio.Antennas = *antennas },
		"sample-rate": func() { cfg.Radio.SampleRate = *sampleRate },
		"symbol-rate": func() { cfg.Radio.SymbolRate = *symbolRate },
		"tag-rate":    func() { cfg.Radio.TagRate = *tagRate },
		"simd":        func() { cfg.Radio.SIMD = *simd },
		"parallel":    func() { cfg.Radio.Parallel = *parallel },
		"mqtt-broker": func() { cfg.MQTT.Broker = *mqttBroker },
		"mqtt-topic":  func() { cfg.MQTT.Topic = *mqttTopic },
		"websocket":   func() { cfg.WebSocket.Listen = *wsListen },
		"output":      func() { cfg.Output.Path = *output },
		"text":        func() { cfg.Output.Text = *text },
		"metrics":     func() { cfg.Metrics.Listen = *metricsListen },
		"log-level":   func() { cfg.LogLevel = *logLevel },
	}
	fs.Visit(func(f *pflag.Flag) {
		opts.explicit[f.Name] = true
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalid, level)
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "anyscatter-rx",
	})
	logger.SetLevel(lvl)
	return logger, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	src, err := openSource(cfg, opts, stdin, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("close input", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, cfg.Radio.Antennas)
	srv := newServers(logger)

	var frames atomic.Int64
	s, err := buildSinks(cfg, opts, stdout, logger, srv, m, reg)
	if err != nil {
		return err
	}
	s = append(s, sink.Func(func(frame.Record) error {
		frames.Add(1)
		return nil
	}))

	if err := srv.start(); err != nil {
		return errors.Join(err, s.Close())
	}
	defer srv.shutdown()

	rx, err := anyscatter.New(&anyscatter.Config{
		NumAntennas:    cfg.Radio.Antennas,
		SampleRate:     cfg.Radio.SampleRate,
		SymbolRate:     cfg.Radio.SymbolRate,
		TagRate:        cfg.Radio.TagRate,
		MaxInputSize:   opts.chunk,
		EnableSIMD:     cfg.Radio.SIMD,
		EnableParallel: cfg.Radio.Parallel,
	}, s, anyscatter.WithLogger(logger), anyscatter.WithObserver(m))
	if err != nil {
		return err
	}

	start := time.Now()
	ticks, err := pump(ctx, src, rx, cfg.Radio.Antennas, opts.chunk)
	if err != nil {
		return errors.Join(err, rx.Close())
	}

	if opts.stay && len(srv.running) > 0 && ctx.Err() == nil {
		logger.Info("input finished, serving until interrupted")
		<-ctx.Done()
	}

	if err := rx.Close(); err != nil {
		return err
	}
	logger.Info("done", "ticks", ticks, "frames", frames.Load(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// pump feeds src into rx until the input ends or ctx is cancelled.
func pump(ctx context.Context, src source, rx *anyscatter.Receiver, numAntennas, chunk int) (int, error) {
	block := make([][]complex64, numAntennas)
	view := make([][]complex64, numAntennas)
	for i := range block {
		block[i] = make([]complex64, chunk)
	}

	total := 0
	for ctx.Err() == nil {
		n, err := src.Read(block)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		for i := range block {
			view[i] = block[i][:n]
		}
		ticks, err := rx.Process(view)
		if err != nil {
			return total, err
		}
		total += ticks
	}
	return total, nil
}

// openSource opens the input. A WAV capture overrides the antenna count and
// sample rate unless they were given explicitly and disagree, which is an
// error.
func openSource(cfg *config.Config, opts *options, stdin io.Reader, logger *log.Logger) (source, error) {
	if opts.input == stdinInput {
		logger.Info("reading raw float32 IQ from stdin", "antennas", cfg.Radio.Antennas)
		return newRawSource(stdin, cfg.Radio.Antennas), nil
	}

	r, err := openWAV(opts.input, opts.scale)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (source, error) {
		return nil, errors.Join(err, r.Close())
	}
	if opts.explicit["antennas"] && cfg.Radio.Antennas != r.NumAntennas() {
		return fail(fmt.Errorf("%s has %d antennas, --antennas is %d", opts.input, r.NumAntennas(), cfg.Radio.Antennas))
	}
	if opts.explicit["sample-rate"] && cfg.Radio.SampleRate != float64(r.SampleRate()) {
		return fail(fmt.Errorf("%s is sampled at %d Hz, --sample-rate is %v", opts.input, r.SampleRate(), cfg.Radio.SampleRate))
	}
	cfg.Radio.Antennas = r.NumAntennas()
	cfg.Radio.SampleRate = float64(r.SampleRate())
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	logger.Info("reading capture", "path", opts.input, "antennas", r.NumAntennas(), "sample_rate", r.SampleRate())
	return r, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// bufferedFile flushes before closing.
type bufferedFile struct {
	*bufio.Writer
	f *os.File
}

func (b *bufferedFile) Close() error {
	return errors.Join(b.Flush(), b.f.Close())
}

// buildSinks assembles every configured sink. With none configured, frames
// go to stdout as text. On error, sinks already built are closed.
func buildSinks(cfg *config.Config, opts *options, stdout io.Writer, logger *log.Logger,
	srv *servers, m *metrics.Metrics, reg *prometheus.Registry,
) (s sink.Multi, err error) {
	defer func() {
		if err != nil {
			err = errors.Join(err, s.Close())
			s = nil
		}
	}()

	if cfg.Output.Path != "" {
		f, err := os.OpenFile(cfg.Output.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return s, fmt.Errorf("open output: %w", err)
		}
		w := &bufferedFile{Writer: bufio.NewWriterSize(f, fileBufferSize), f: f}
		if cfg.Output.Text {
			s = append(s, sink.NewTextWriter(w))
		} else {
			s = append(s, sink.NewWriter(w))
		}
		logger.Info("writing frames", "path", cfg.Output.Path, "text", cfg.Output.Text)
	}

	if cfg.MQTT.Broker != "" {
		mq, err := sink.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			return s, err
		}
		s = append(s, mq)
		logger.Info("publishing to mqtt", "broker", cfg.MQTT.Broker, "topic", mq.Topic())
	}

	if cfg.WebSocket.Listen != "" {
		hub := sink.NewHub(sink.WithQueue(cfg.WebSocket.Queue), sink.WithHubLogger(logger))
		srv.handle(cfg.WebSocket.Listen, cfg.WebSocket.Path, hub)
		m.TrackClients(reg, hub.Clients)
		s = append(s, hub)
	}

	if cfg.Metrics.Listen != "" {
		srv.handle(cfg.Metrics.Listen, cfg.Metrics.Path, metrics.Handler(reg))
	}

	if opts.stdout || len(s) == 0 {
		s = append(s, sink.NewTextWriter(nopCloser{stdout}))
	}
	return s, nil
}
