// Package push fans decoded broker messages out to external websocket
// clients. Each client carries its own channel interest set, seeded from the
// configured defaults and mutated only by that client's control messages.
package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
)

// Config tunes the gateway's bind address and per-client defaults.
type Config struct {
	Host            string
	Port            int
	DefaultChannels []string
}

// StatsReport is the gateway's get_stats response.
type StatsReport struct {
	ActiveClients  int    `json:"active_clients"`
	TotalBroadcast uint64 `json:"total_broadcast"`
	Disconnections uint64 `json:"disconnections"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
}

// controlMessage is the client-to-server frame.
type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// pushFrame is the server-to-client data frame.
type pushFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

type client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	channels map[string]struct{}
}

func (c *client) interested(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *client) channelList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// writeJSON serializes writes so broadcasts and control replies do not
// interleave on the same connection.
func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Gateway is the websocket fan-out server.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
	prom     *metrics.Metrics

	mu             sync.Mutex
	clients        map[*client]struct{}
	broadcasts     uint64
	disconnections uint64

	server *http.Server
}

// New creates a stopped gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logging.WithComponent("push"),
		clients: make(map[*client]struct{}),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (g *Gateway) SetMetrics(prom *metrics.Metrics) { g.prom = prom }

// Handler returns the HTTP handler that upgrades connections and runs the
// per-client control loop. Exposed separately so tests can mount it on an
// httptest server.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleUpgrade)
}

// Start binds the listener and serves websocket upgrades on /ws.
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/ws", g.Handler())

	addr := net.JoinHostPort(g.cfg.Host, fmt.Sprintf("%d", g.cfg.Port))
	g.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("push: listening on %s: %w", addr, err)
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error().Err(err).Msg("push server failed")
		}
	}()
	g.log.Info().Str("addr", addr).Msg("push gateway listening")
	return nil
}

// Stop shuts the server down and closes every live client connection.
func (g *Gateway) Stop(ctx context.Context) error {
	var err error
	if g.server != nil {
		err = g.server.Shutdown(ctx)
	}

	g.mu.Lock()
	for c := range g.clients {
		_ = c.conn.Close()
		delete(g.clients, c)
	}
	g.mu.Unlock()
	g.updateClientGauge()
	return err
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, channels: make(map[string]struct{}, len(g.cfg.DefaultChannels))}
	for _, ch := range g.cfg.DefaultChannels {
		c.channels[ch] = struct{}{}
	}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	g.updateClientGauge()

	go g.readLoop(c)
}

func (g *Gateway) readLoop(c *client) {
	defer g.drop(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleControl(c, raw)
	}
}

func (g *Gateway) handleControl(c *client, raw []byte) {
	var msg controlMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		_ = c.writeJSON(map[string]string{
			"type":    "error",
			"message": fmt.Sprintf("Invalid JSON: %v", err),
		})
		return
	}

	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.channels[msg.Channel] = struct{}{}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.channels, msg.Channel)
		c.mu.Unlock()
	case "ping":
		_ = c.writeJSON(map[string]string{"type": "pong"})
	case "get_channels":
		_ = c.writeJSON(map[string]any{"type": "channels", "channels": c.channelList()})
	default:
		_ = c.writeJSON(map[string]string{
			"type":    "error",
			"message": fmt.Sprintf("Unknown message type: %s", msg.Type),
		})
	}
}

// Broadcast pushes a decoded payload to every client interested in the
// channel. A failed write evicts only that client.
func (g *Gateway) Broadcast(channel string, data any) {
	frame := pushFrame{Type: "message", Channel: channel, Data: data}

	g.mu.Lock()
	targets := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		if c.interested(channel) {
			targets = append(targets, c)
		}
	}
	g.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			g.drop(c)
			continue
		}
		g.mu.Lock()
		g.broadcasts++
		g.mu.Unlock()
		g.prom.IncPushBroadcast()
	}
}

// OnMessage is the subscriber handler hook: re-publish the decoded payload
// to interested clients.
func (g *Gateway) OnMessage(ctx context.Context, channel string, data any) error {
	g.Broadcast(channel, data)
	return nil
}

func (g *Gateway) drop(c *client) {
	g.mu.Lock()
	if _, live := g.clients[c]; !live {
		g.mu.Unlock()
		return
	}
	delete(g.clients, c)
	g.disconnections++
	g.mu.Unlock()

	_ = c.conn.Close()
	g.updateClientGauge()
}

func (g *Gateway) updateClientGauge() {
	g.mu.Lock()
	n := len(g.clients)
	g.mu.Unlock()
	g.prom.SetPushClients(n)
}

// Stats reports the gateway's counters and bind address.
func (g *Gateway) Stats() StatsReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return StatsReport{
		ActiveClients:  len(g.clients),
		TotalBroadcast: g.broadcasts,
		Disconnections: g.disconnections,
		Host:           g.cfg.Host,
		Port:           g.cfg.Port,
	}
}
