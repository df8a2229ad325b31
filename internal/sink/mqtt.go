package sink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

// Defaults for MQTTConfig.
const (
	DefaultTopic          = "anyscatter/frames"
	DefaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMs   = 250
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Retain   bool          `yaml:"retain"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	ClientID string        `yaml:"client_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c *MQTTConfig) applyDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPublishTimeout
	}
	if c.ClientID == "" {
		c.ClientID = "anyscatter-" + uuid.NewString()
	}
}

// mqttClient is the part of mqtt.Client the sink uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each record as one binary message on a topic.
type MQTT struct {
	client mqttClient
	cfg    MQTTConfig
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewMQTT connects to the broker and returns a ready sink.
func NewMQTT(cfg MQTTConfig, logger *log.Logger) (*MQTT, error) {
	if logger == nil {
		logger = log.Default()
	}
	client, err := ConnectMQTT(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newMQTT(client, cfg, logger), nil
}

// ConnectMQTT opens an auto-reconnecting client session for cfg. The
// subscriber tool shares it with the sink.
func ConnectMQTT(cfg MQTTConfig, logger *log.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("sink: mqtt broker address is empty")
	}
	cfg.applyDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("sink: connect to %s: %w", cfg.Broker, ErrPublishTimeout)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

func newMQTT(client mqttClient, cfg MQTTConfig, logger *log.Logger) *MQTT {
	cfg.applyDefaults()
	return &MQTT{client: client, cfg: cfg, logger: logger}
}

// Topic returns the topic records are published on.
func (m *MQTT) Topic() string { return m.cfg.Topic }

// Publish sends rec and waits up to the configured timeout for the client to
// hand it off. There is no retry.
func (m *MQTT) Publish(rec frame.Record) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, _ := rec.MarshalBinary()
	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("sink: mqtt %s: %w", m.cfg.Topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("sink: mqtt %s: %w", m.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker. It is safe to call more than once.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Disconnect(disconnectQuiesceMs)
	return nil
}
