package sink

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(WithHubLogger(log.New(io.Discard)))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(testRecord))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)

		var got frame.Record
		require.NoError(t, got.UnmarshalBinary(msg))
		assert.Equal(t, testRecord, got)
	}
}

func TestHub_ClientLeaves(t *testing.T) {
	hub := NewHub(WithHubLogger(log.New(io.Discard)))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Publish(testRecord))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(WithHubLogger(log.New(io.Discard)))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())
	assert.Zero(t, hub.Clients())
	assert.ErrorIs(t, hub.Publish(testRecord), ErrClosed)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHub_DropsForFullQueue(t *testing.T) {
	hub := NewHub(WithQueue(1))
	c := &wsClient{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	require.NoError(t, hub.Publish(testRecord))
	require.NoError(t, hub.Publish(testRecord))
	require.NoError(t, hub.Publish(testRecord))

	assert.Equal(t, uint64(2), hub.Dropped())
	assert.Len(t, c.send, 1)
}
