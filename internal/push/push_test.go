package push

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, defaults ...string) (*Gateway, string) {
	t.Helper()
	g := New(Config{Host: "127.0.0.1", Port: 0, DefaultChannels: defaults})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func sendControl(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func waitForClients(t *testing.T, g *Gateway, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return g.Stats().ActiveClients == n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBroadcastRespectsInterestSets(t *testing.T) {
	g, url := newTestGateway(t, "market.candle")

	candleClient := dial(t, url)
	breadthClient := dial(t, url)
	waitForClients(t, g, 2)

	sendControl(t, breadthClient, map[string]string{"type": "unsubscribe", "channel": "market.candle"})
	sendControl(t, breadthClient, map[string]string{"type": "subscribe", "channel": "market.breadth"})

	// get_channels doubles as a barrier so the mutations above have landed.
	sendControl(t, breadthClient, map[string]string{"type": "get_channels"})
	reply := readFrame(t, breadthClient)
	assert.Equal(t, "channels", reply["type"])
	assert.Equal(t, []any{"market.breadth"}, reply["channels"])

	g.Broadcast("market.candle", map[string]any{"symbol": "AAA"})
	g.Broadcast("market.breadth", map[string]any{"advances": float64(5)})

	frame := readFrame(t, candleClient)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, "market.candle", frame["channel"])
	assert.Equal(t, "AAA", frame["data"].(map[string]any)["symbol"])

	frame = readFrame(t, breadthClient)
	assert.Equal(t, "market.breadth", frame["channel"])
	assert.Equal(t, float64(5), frame["data"].(map[string]any)["advances"])

	assert.Equal(t, uint64(2), g.Stats().TotalBroadcast)
}

func TestControlProtocol(t *testing.T) {
	g, url := newTestGateway(t, "market.candle")
	conn := dial(t, url)
	waitForClients(t, g, 1)

	sendControl(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	sendControl(t, conn, map[string]string{"type": "get_channels"})
	reply := readFrame(t, conn)
	assert.Equal(t, "channels", reply["type"])
	assert.Equal(t, []any{"market.candle"}, reply["channels"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	reply = readFrame(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Contains(t, reply["message"], "Invalid JSON:")

	sendControl(t, conn, map[string]string{"type": "rewind"})
	reply = readFrame(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Contains(t, reply["message"], "Unknown message type: rewind")
}

func TestDeadClientIsEvicted(t *testing.T) {
	g, url := newTestGateway(t, "market.candle")

	stale := dial(t, url)
	live := dial(t, url)
	waitForClients(t, g, 2)

	require.NoError(t, stale.Close())
	waitForClients(t, g, 1)

	g.Broadcast("market.candle", map[string]any{"symbol": "AAA"})
	frame := readFrame(t, live)
	assert.Equal(t, "market.candle", frame["channel"])

	stats := g.Stats()
	assert.Equal(t, 1, stats.ActiveClients)
	assert.Equal(t, uint64(1), stats.Disconnections)
}

func TestOnMessageBroadcasts(t *testing.T) {
	g, url := newTestGateway(t, "market.trend")
	conn := dial(t, url)
	waitForClients(t, g, 1)

	require.NoError(t, g.OnMessage(t.Context(), "market.trend", map[string]any{"symbol": "AAA", "classification": "uptrend"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "market.trend", frame["channel"])
	assert.Equal(t, "uptrend", frame["data"].(map[string]any)["classification"])
}
