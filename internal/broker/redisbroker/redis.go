// Package redisbroker provides the networked broker backend over Redis
// pub/sub for multi-process deployments. The client keeps a connection pool;
// one PubSub receiver per channel feeds the locally stored handler table.
package redisbroker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
)

// BackendName is the name used to register this backend.
const BackendName = "redis"

func init() {
	broker.Register(BackendName, func(cfg broker.Config) (broker.Broker, error) {
		return New(cfg), nil
	})
}

// Broker is the Redis-backed implementation.
type Broker struct {
	cfg   broker.Config
	table *broker.HandlerTable
	log   zerolog.Logger

	connected atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64

	mu         sync.Mutex
	client     *redis.Client
	pubsubs    map[string]*redis.PubSub
	receivers  sync.WaitGroup
	perChannel map[string]int64
}

// New creates a disconnected Redis broker.
func New(cfg broker.Config) *Broker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = broker.DefaultProbeTimeout
	}
	return &Broker{
		cfg:        cfg,
		table:      broker.NewHandlerTable(),
		log:        logging.WithComponent("broker.redis"),
		pubsubs:    make(map[string]*redis.PubSub),
		perChannel: make(map[string]int64),
	}
}

// Connect opens the pooled client and probes the server with a ping before
// marking the broker connected.
func (b *Broker) Connect(ctx context.Context) error {
	opts, err := clientOptions(b.cfg)
	if err != nil {
		return broker.NewConnectionError("invalid redis url", err)
	}

	client := redis.NewClient(opts)

	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		_ = client.Close()
		return broker.NewConnectionError("redis ping failed", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.connected.Store(true)
	b.log.Info().Str("url", b.cfg.URL).Msg("redis broker connected")
	return nil
}

func clientOptions(cfg broker.Config) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		addr := cfg.URL
		if addr == "" {
			addr = "localhost:6379"
		}
		opts = &redis.Options{Addr: addr}
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	return opts, nil
}

// Disconnect unsubscribes every channel, closes the PubSub resources, and
// finally releases the connection pool, in that order.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.connected.Store(false)

	b.mu.Lock()
	for channel, ps := range b.pubsubs {
		_ = ps.Close()
		delete(b.pubsubs, channel)
		b.table.RemoveChannel(channel)
	}
	client := b.client
	b.client = nil
	b.mu.Unlock()

	b.receivers.Wait()

	if client != nil {
		if err := client.Close(); err != nil {
			return broker.NewConnectionError("closing redis pool", err)
		}
	}
	b.log.Info().Msg("redis broker disconnected")
	return nil
}

// Publish forwards the payload to Redis PUBLISH.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	client := b.currentClient()
	if client == nil {
		return broker.NewPublishError("publish on disconnected broker", nil)
	}

	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return broker.NewPublishError("redis publish failed", err)
	}

	b.published.Add(1)
	b.mu.Lock()
	b.perChannel[channel]++
	b.mu.Unlock()
	return nil
}

// Subscribe registers the handler locally and opens the channel's PubSub on
// first registration.
func (b *Broker) Subscribe(ctx context.Context, channel string, h broker.Handler) (broker.HandlerID, error) {
	client := b.currentClient()
	if client == nil {
		return 0, broker.NewSubscriptionError("subscribe on disconnected broker", nil)
	}

	b.mu.Lock()
	_, exists := b.pubsubs[channel]
	b.mu.Unlock()

	if !exists {
		ps := client.Subscribe(ctx, channel)

		// Confirm the server accepted the subscription before dispatching.
		// The confirmation can take up to the probe timeout, so it must not
		// hold b.mu and stall concurrent publishes.
		confirmCtx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
		_, err := ps.Receive(confirmCtx)
		cancel()
		if err != nil {
			_ = ps.Close()
			return 0, broker.NewSubscriptionError("redis subscribe failed", err)
		}

		b.mu.Lock()
		if _, raced := b.pubsubs[channel]; raced {
			// Another subscriber set the channel up first; theirs wins.
			b.mu.Unlock()
			_ = ps.Close()
		} else {
			b.pubsubs[channel] = ps
			b.receivers.Add(1)
			b.mu.Unlock()
			go b.receive(channel, ps)
		}
	}

	return b.table.Add(channel, h), nil
}

func (b *Broker) receive(channel string, ps *redis.PubSub) {
	defer b.receivers.Done()

	for msg := range ps.Channel() {
		delivered, failed := b.table.Dispatch(context.Background(), channel, []byte(msg.Payload))
		b.delivered.Add(uint64(delivered))
		if failed > 0 {
			b.log.Warn().Str("channel", channel).Int("failed", failed).Msg("handler failures during dispatch")
		}
	}
}

// Unsubscribe removes every handler for the channel and closes its PubSub.
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	if !b.connected.Load() {
		return broker.NewSubscriptionError("unsubscribe on disconnected broker", nil)
	}

	b.mu.Lock()
	ps, ok := b.pubsubs[channel]
	delete(b.pubsubs, channel)
	b.table.RemoveChannel(channel)
	b.mu.Unlock()

	if ok {
		if err := ps.Close(); err != nil {
			return broker.NewSubscriptionError("closing redis subscription", err)
		}
	}
	return nil
}

// UnsubscribeHandler removes one handler; the channel's PubSub is closed once
// the last handler is gone.
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

// HealthCheck measures ping round-trip latency under a bounded timeout.
func (b *Broker) HealthCheck(ctx context.Context) broker.Health {
	client := b.currentClient()
	if client == nil {
		return broker.Health{Error: "not connected"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := client.Ping(probeCtx).Err()
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

func (b *Broker) currentClient() *redis.Client {
	if !b.connected.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}
