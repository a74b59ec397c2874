// Package memory provides the in-process broker backend used by
// single-instance deployments and tests. Publish is a synchronous fan-out to
// every registered handler in registration order.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
)

// BackendName is the name used to register this backend.
const BackendName = "inmemory"

// DefaultHistorySize bounds the per-channel replay history when the config
// leaves it unset.
const DefaultHistorySize = 100

func init() {
	broker.Register(BackendName, func(cfg broker.Config) (broker.Broker, error) {
		return New(cfg), nil
	})
}

// HistoryEntry is one retained (channel, timestamp, payload) triple.
type HistoryEntry struct {
	Channel   string
	Timestamp time.Time
	Payload   []byte
}

// Broker is the in-process backend.
type Broker struct {
	table       *broker.HandlerTable
	historySize int
	log         zerolog.Logger

	connected atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64

	mu         sync.Mutex
	perChannel map[string]int64
	history    map[string][]HistoryEntry
}

// New creates a disconnected in-process broker.
func New(cfg broker.Config) *Broker {
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Broker{
		table:       broker.NewHandlerTable(),
		historySize: size,
		log:         logging.WithComponent("broker.memory"),
		perChannel:  make(map[string]int64),
		history:     make(map[string][]HistoryEntry),
	}
}

// Connect marks the broker connected. There is no network hop to establish.
func (b *Broker) Connect(ctx context.Context) error {
	b.connected.Store(true)
	b.log.Info().Msg("in-memory broker connected")
	return nil
}

// Disconnect marks the broker disconnected. Registered handlers stay in the
// table so a reconnect resumes delivery.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.connected.Store(false)
	b.log.Info().Msg("in-memory broker disconnected")
	return nil
}

// Publish fans the payload out to every handler registered for the channel,
// in registration order. A failing handler does not prevent delivery to the
// remaining handlers.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if !b.connected.Load() {
		return broker.NewPublishError("publish on disconnected broker", nil)
	}

	b.recordHistory(channel, payload)
	b.published.Add(1)

	delivered, failed := b.table.Dispatch(ctx, channel, payload)
	b.delivered.Add(uint64(delivered))
	if failed > 0 {
		b.log.Warn().Str("channel", channel).Int("failed", failed).Msg("handler failures during fan-out")
	}
	return nil
}

func (b *Broker) recordHistory(channel string, payload []byte) {
	entry := HistoryEntry{
		Channel:   channel,
		Timestamp: time.Now(),
		Payload:   append([]byte(nil), payload...),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.perChannel[channel]++
	ring := append(b.history[channel], entry)
	if len(ring) > b.historySize {
		ring = ring[len(ring)-b.historySize:]
	}
	b.history[channel] = ring
}

// History returns the retained entries for a channel, oldest first.
func (b *Broker) History(channel string) []HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]HistoryEntry, len(b.history[channel]))
	copy(out, b.history[channel])
	return out
}

// Subscribe registers a handler for the channel.
func (b *Broker) Subscribe(ctx context.Context, channel string, h broker.Handler) (broker.HandlerID, error) {
	if !b.connected.Load() {
		return 0, broker.NewSubscriptionError("subscribe on disconnected broker", nil)
	}
	return b.table.Add(channel, h), nil
}

// Unsubscribe removes every handler registered for the channel.
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	if !b.connected.Load() {
		return broker.NewSubscriptionError("unsubscribe on disconnected broker", nil)
	}
	b.table.RemoveChannel(channel)
	return nil
}

// UnsubscribeHandler removes one handler registration from the channel.
func (b *Broker) UnsubscribeHandler(ctx context.Context, channel string, id broker.HandlerID) error {
	if !b.connected.Load() {
		return broker.NewSubscriptionError("unsubscribe on disconnected broker", nil)
	}
	if !b.table.Remove(channel, id) {
		return broker.NewSubscriptionError("handler not registered", nil)
	}
	return nil
}

// IsConnected reports the connected flag.
func (b *Broker) IsConnected() bool {
	return b.connected.Load()
}

// HealthCheck reports zero latency: deliveries never leave the process.
func (b *Broker) HealthCheck(ctx context.Context) broker.Health {
	latency := time.Duration(0)
	h := broker.Health{
		Healthy:   b.connected.Load(),
		Connected: b.connected.Load(),
		Latency:   &latency,
	}
	if !h.Connected {
		h.Error = "not connected"
	}
	return h
}

// Stats reports activity counters and the active channel set.
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

// SubscriberCount returns the number of handlers registered for a channel.
// Used by lifecycle tests to assert clean unsubscription.
func (b *Broker) SubscriberCount(channel string) int {
	return b.table.Len(channel)
}
