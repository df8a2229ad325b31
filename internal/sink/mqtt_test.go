package sink

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        *fakeToken
	messages     []published
	disconnected int
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected++ }

func TestMQTT_Publish(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true}}
	m := newMQTT(client, MQTTConfig{QoS: 1}, log.Default())

	require.NoError(t, m.Publish(testRecord))
	require.Len(t, client.messages, 1)

	msg := client.messages[0]
	assert.Equal(t, DefaultTopic, msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)
	assert.Equal(t, []byte{0xA1, 0x23, 0x45, 0x6E, 2, 0, 3, 0}, msg.payload)
}

func TestMQTT_Timeout(t *testing.T) {
	m := newMQTT(&fakeClient{token: &fakeToken{}}, MQTTConfig{Topic: "t"}, log.Default())
	assert.ErrorIs(t, m.Publish(testRecord), ErrPublishTimeout)
}

func TestMQTT_Error(t *testing.T) {
	refused := errors.New("not authorized")
	m := newMQTT(&fakeClient{token: &fakeToken{done: true, err: refused}}, MQTTConfig{}, log.Default())
	assert.ErrorIs(t, m.Publish(testRecord), refused)
}

func TestMQTT_Close(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true}}
	m := newMQTT(client, MQTTConfig{}, log.Default())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, client.disconnected)
	assert.ErrorIs(t, m.Publish(testRecord), ErrClosed)
	assert.Empty(t, client.messages)
}

func TestMQTTConfig_Defaults(t *testing.T) {
	var cfg MQTTConfig
	cfg.applyDefaults()

	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, DefaultPublishTimeout, cfg.Timeout)
	assert.True(t, strings.HasPrefix(cfg.ClientID, "anyscatter-"))

	other := MQTTConfig{}
	other.applyDefaults()
	assert.NotEqual(t, cfg.ClientID, other.ClientID)
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{}, nil)
	assert.Error(t, err)
}
