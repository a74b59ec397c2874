// Package natsbroker provides the networked broker backend over core NATS
// subjects. Channel names map directly onto subjects.
package natsbroker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

func init() {
	broker.Register(BackendName, func(cfg broker.Config) (broker.Broker, error) {
		return New(cfg), nil
	})
}

// Broker is the NATS-backed implementation.
type Broker struct {
	cfg   broker.Config
	table *broker.HandlerTable
	log   zerolog.Logger

	connected atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64

	mu         sync.Mutex
	conn       *nats.Conn
	subs       map[string]*nats.Subscription
	perChannel map[string]int64
}

// New creates a disconnected NATS broker.
func New(cfg broker.Config) *Broker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = broker.DefaultProbeTimeout
	}
	return &Broker{
		cfg:        cfg,
		table:      broker.NewHandlerTable(),
		log:        logging.WithComponent("broker.nats"),
		subs:       make(map[string]*nats.Subscription),
		perChannel: make(map[string]int64),
	}
}

// Connect dials the server and confirms liveness with a bounded flush before
// marking the broker connected.
func (b *Broker) Connect(ctx context.Context) error {
	url := b.cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Timeout(b.cfg.ProbeTimeout))
	if err != nil {
		return broker.NewConnectionError("nats connect failed", err)
	}
	if err := conn.FlushTimeout(b.cfg.ProbeTimeout); err != nil {
		conn.Close()
		return broker.NewConnectionError("nats liveness probe failed", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	b.connected.Store(true)
	b.log.Info().Str("url", url).Msg("nats broker connected")
	return nil
}

// Disconnect drains server-side subscriptions before closing the connection.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.connected.Store(false)

	b.mu.Lock()
	for channel, sub := range b.subs {
		_ = sub.Unsubscribe()
		delete(b.subs, channel)
		b.table.RemoveChannel(channel)
	}
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	b.log.Info().Msg("nats broker disconnected")
	return nil
}

// Publish forwards the payload to the subject named by channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	conn := b.currentConn()
	if conn == nil {
		return broker.NewPublishError("publish on disconnected broker", nil)
	}

	if err := conn.Publish(channel, payload); err != nil {
		return broker.NewPublishError("nats publish failed", err)
	}

	b.published.Add(1)
	b.mu.Lock()
	b.perChannel[channel]++
	b.mu.Unlock()
	return nil
}

// Subscribe registers the handler locally and opens the subject subscription
// on first registration.
func (b *Broker) Subscribe(ctx context.Context, channel string, h broker.Handler) (broker.HandlerID, error) {
	conn := b.currentConn()
	if conn == nil {
		return 0, broker.NewSubscriptionError("subscribe on disconnected broker", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[channel]; !ok {
		sub, err := conn.Subscribe(channel, func(msg *nats.Msg) {
			delivered, failed := b.table.Dispatch(context.Background(), channel, msg.Data)
			b.delivered.Add(uint64(delivered))
			if failed > 0 {
				b.log.Warn().Str("channel", channel).Int("failed", failed).Msg("handler failures during dispatch")
			}
		})
		if err != nil {
			return 0, broker.NewSubscriptionError("nats subscribe failed", err)
		}
		b.subs[channel] = sub
	}

	return b.table.Add(channel, h), nil
}

// Unsubscribe removes every handler for the channel and drops the
// server-side subscription.
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	if !b.connected.Load() {
		return broker.NewSubscriptionError("unsubscribe on disconnected broker", nil)
	}

	b.mu.Lock()
	sub, ok := b.subs[channel]
	delete(b.subs, channel)
	b.table.RemoveChannel(channel)
	b.mu.Unlock()

	if ok {
		if err := sub.Unsubscribe(); err != nil {
			return broker.NewSubscriptionError("nats unsubscribe failed", err)
		}
	}
	return nil
}

// UnsubscribeHandler removes one handler; the subject subscription is dropped
// once the last handler is gone.
func (b *Broker) UnsubscribeHandler(ctx context.Context, channel string, id broker.HandlerID) error {
	if !b.connected.Load() {
		return broker.NewSubscriptionError("unsubscribe on disconnected broker", nil)
	}
	if !b.table.Remove(channel, id) {
		return broker.NewSubscriptionError("handler not registered", nil)
	}
	if b.table.Len(channel) == 0 {
		return b.Unsubscribe(ctx, channel)
	}
	return nil
}

// IsConnected reports the connected flag.
func (b *Broker) IsConnected() bool {
	return b.connected.Load()
}

// HealthCheck measures round-trip latency of a bounded flush.
func (b *Broker) HealthCheck(ctx context.Context) broker.Health {
	conn := b.currentConn()
	if conn == nil {
		return broker.Health{Error: "not connected"}
	}

	start := time.Now()
	err := conn.FlushTimeout(b.cfg.ProbeTimeout)
	latency := time.Since(start)

	h := broker.Health{Connected: true, Latency: &latency}
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// Stats reports activity counters.
func (b *Broker) Stats() broker.Stats {
	b.mu.Lock()
	perChannel := make(map[string]int64, len(b.perChannel))
	for channel, n := range b.perChannel {
		perChannel[channel] = n
	}
	b.mu.Unlock()

	return broker.Stats{
		Backend:         BackendName,
		Connected:       b.connected.Load(),
		TotalPublished:  b.published.Load(),
		TotalDelivered:  b.delivered.Load(),
		ActiveChannels:  len(b.table.Channels()),
		ChannelMessages: perChannel,
	}
}

func (b *Broker) currentConn() *nats.Conn {
	if !b.connected.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}
