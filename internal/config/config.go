// Package config loads the receiver tools' YAML configuration and applies
// ANYSCATTER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANYSCATTER_"

// Defaults match a four-antenna front end at 50 MS/s with a 62.5 kHz tag.
const (
	DefaultAntennas   = 4
	DefaultSampleRate = 50e6
	DefaultSymbolRate = 1e6
	DefaultTagRate    = 62.5e3
	DefaultLogLevel   = "info"
)

// Radio holds the three rate parameters and processing switches.
type Radio struct {
	Antennas   int     `yaml:"antennas"`
	SampleRate float64 `yaml:"sample_rate"`
	SymbolRate float64 `yaml:"symbol_rate"`
	TagRate    float64 `yaml:"tag_rate"`
	SIMD       bool    `yaml:"simd"`
	Parallel   bool    `yaml:"parallel"`
}

// WebSocket enables the websocket broadcast hub when Listen is set.
type WebSocket struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	Queue  int    `yaml:"queue"`
}

// Output writes records to a file; Text selects one line per record.
type Output struct {
	Path string `yaml:"path"`
	Text bool   `yaml:"text"`
}

// Metrics serves Prometheus metrics when Listen is set.
type Metrics struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Config is the full tool configuration. An empty MQTT broker disables MQTT.
type Config struct {
	Radio     Radio           `yaml:"radio"`
	MQTT      sink.MQTTConfig `yaml:"mqtt"`
	WebSocket WebSocket       `yaml:"websocket"`
	Output    Output          `yaml:"output"`
	Metrics   Metrics         `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Radio: Radio{
			Antennas:   DefaultAntennas,
			SampleRate: DefaultSampleRate,
			SymbolRate: DefaultSymbolRate,
			TagRate:    DefaultTagRate,
			SIMD:       true,
		},
		MQTT: sink.MQTTConfig{
			Topic:   sink.DefaultTopic,
			Timeout: sink.DefaultPublishTimeout,
		},
		WebSocket: WebSocket{Path: "/frames", Queue: 64},
		Metrics:   Metrics{Path: "/metrics"},
		LogLevel:  DefaultLogLevel,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding maps one environment variable, minus EnvPrefix, onto a field.
type envBinding struct {
	name string
	set  func(v string) error
}

func parseFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func (c *Config) bindings() []envBinding {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}

	return []envBinding{
		{"ANTENNAS", integer(&c.Radio.Antennas)},
		{"SAMPLE_RATE", parseFloat(&c.Radio.SampleRate)},
		{"SYMBOL_RATE", parseFloat(&c.Radio.SymbolRate)},
		{"TAG_RATE", parseFloat(&c.Radio.TagRate)},
		{"SIMD", boolean(&c.Radio.SIMD)},
		{"PARALLEL", boolean(&c.Radio.Parallel)},
		{"MQTT_BROKER", str(&c.MQTT.Broker)},
		{"MQTT_TOPIC", str(&c.MQTT.Topic)},
		{"MQTT_USERNAME", str(&c.MQTT.Username)},
		{"MQTT_PASSWORD", str(&c.MQTT.Password)},
		{"MQTT_TIMEOUT", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			c.MQTT.Timeout = d
			return nil
		}},
		{"WEBSOCKET_LISTEN", str(&c.WebSocket.Listen)},
		{"OUTPUT_PATH", str(&c.Output.Path)},
		{"METRICS_LISTEN", str(&c.Metrics.Listen)},
		{"LOG_LEVEL", str(&c.LogLevel)},
	}
}

// ApplyEnv overrides fields from ANYSCATTER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.bindings() {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, name, v, err)
		}
	}
	return nil
}

// Validate checks the radio parameters and sink settings.
func (c *Config) Validate() error {
	r := c.Radio
	if r.Antennas < 1 {
		return fmt.Errorf("%w: radio.antennas must be at least 1", ErrInvalid)
	}
	if r.SampleRate <= 0 || r.SymbolRate <= 0 || r.TagRate <= 0 {
		return fmt.Errorf("%w: radio rates must be positive", ErrInvalid)
	}
	if r.SymbolRate > r.SampleRate {
		return fmt.Errorf("%w: symbol_rate %v exceeds sample_rate %v", ErrInvalid, r.SymbolRate, r.SampleRate)
	}
	if r.TagRate > r.SymbolRate {
		return fmt.Errorf("%w: tag_rate %v exceeds symbol_rate %v", ErrInvalid, r.TagRate, r.SymbolRate)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	if c.WebSocket.Queue < 0 {
		return fmt.Errorf("%w: websocket.queue must not be negative", ErrInvalid)
	}
	return nil
}
