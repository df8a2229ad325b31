package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaogaogaoxiao/anyscatter/internal/sink"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Radio.Antennas)
	assert.InDelta(t, 50e6, cfg.Radio.SampleRate, 0)
	assert.InDelta(t, 1e6, cfg.Radio.SymbolRate, 0)
	assert.InDelta(t, 62.5e3, cfg.Radio.TagRate, 0)
	assert.True(t, cfg.Radio.SIMD)
	assert.False(t, cfg.Radio.Parallel)
	assert.Equal(t, sink.DefaultTopic, cfg.MQTT.Topic)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
radio:
  antennas: 2
  sample_rate: 32000
  symbol_rate: 16000
  tag_rate: 1000
  parallel: true
mqtt:
  broker: tcp://localhost:1883
  qos: 1
  timeout: 5s
websocket:
  listen: ":8080"
output:
  path: frames.txt
  text: true
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Radio.Antennas)
	assert.InDelta(t, 32000, cfg.Radio.SampleRate, 0)
	assert.InDelta(t, 1000, cfg.Radio.TagRate, 0)
	assert.True(t, cfg.Radio.Parallel)
	assert.True(t, cfg.Radio.SIMD, "unset keys keep their defaults")
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 5*time.Second, cfg.MQTT.Timeout)
	assert.Equal(t, sink.DefaultTopic, cfg.MQTT.Topic)
	assert.Equal(t, ":8080", cfg.WebSocket.Listen)
	assert.Equal(t, "/frames", cfg.WebSocket.Path)
	assert.Equal(t, "frames.txt", cfg.Output.Path)
	assert.True(t, cfg.Output.Text)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("radio: [1, 2"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("radio:\n  antennas: 0\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"ANYSCATTER_ANTENNAS":     "3",
		"ANYSCATTER_TAG_RATE":     "31250",
		"ANYSCATTER_PARALLEL":     "true",
		"ANYSCATTER_MQTT_BROKER":  " tcp://broker:1883 ",
		"ANYSCATTER_MQTT_TIMEOUT": "750ms",
		"ANYSCATTER_LOG_LEVEL":    "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Radio.Antennas)
	assert.InDelta(t, 31250, cfg.Radio.TagRate, 0)
	assert.True(t, cfg.Radio.Parallel)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 750*time.Millisecond, cfg.MQTT.Timeout)
	assert.Equal(t, "info", cfg.LogLevel, "empty values are ignored")
}

func TestApplyEnv_Malformed(t *testing.T) {
	for _, kv := range [][2]string{
		{"ANYSCATTER_ANTENNAS", "four"},
		{"ANYSCATTER_SAMPLE_RATE", "fast"},
		{"ANYSCATTER_SIMD", "maybe"},
		{"ANYSCATTER_MQTT_TIMEOUT", "soon"},
	} {
		t.Run(kv[0], func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(envMap(map[string]string{kv[0]: kv[1]}))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no antennas", func(c *Config) { c.Radio.Antennas = 0 }},
		{"zero sample rate", func(c *Config) { c.Radio.SampleRate = 0 }},
		{"negative tag rate", func(c *Config) { c.Radio.TagRate = -1 }},
		{"symbol above sample", func(c *Config) { c.Radio.SymbolRate = 2 * c.Radio.SampleRate }},
		{"tag above symbol", func(c *Config) { c.Radio.TagRate = 2 * c.Radio.SymbolRate }},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"queue", func(c *Config) { c.WebSocket.Queue = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
