// Package broker defines the publish/subscribe transport contract and the
// registry of backend implementations. Each backend (memory, redis, nats)
// lives in its own sub-package and registers a builder here.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler receives a message delivered on a subscribed channel. Handlers may
// block; the broker always dispatches through the same invocation path with
// panic isolation, so synchronous and asynchronous handler styles are
// indistinguishable to the broker.
type Handler func(ctx context.Context, channel string, payload []byte) error

// HandlerID identifies a registered handler so it can be removed
// individually. Go func values are not comparable, so Subscribe hands out an
// identity instead.
type HandlerID uint64

// Health is the result of a broker liveness probe.
type Health struct {
	Healthy   bool           `json:"healthy"`
	Connected bool           `json:"connected"`
	Latency   *time.Duration `json:"latency_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot of broker activity.
type Stats struct {
	Backend         string           `json:"backend"`
	Connected       bool             `json:"connected"`
	TotalPublished  uint64           `json:"total_published"`
	TotalDelivered  uint64           `json:"total_delivered"`
	ActiveChannels  int              `json:"active_channels"`
	ChannelMessages map[string]int64 `json:"channel_messages"`
}

// Broker is the uniform transport contract shared by every backend. All
// operations except IsConnected fail with a kind-tagged *Error when the
// broker is not connected.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a handler for a channel and returns its identity.
	Subscribe(ctx context.Context, channel string, h Handler) (HandlerID, error)
	// Unsubscribe removes every handler registered for a channel.
	Unsubscribe(ctx context.Context, channel string) error
	// UnsubscribeHandler removes a single handler from a channel.
	UnsubscribeHandler(ctx context.Context, channel string, id HandlerID) error

	IsConnected() bool
	HealthCheck(ctx context.Context) Health
	Stats() Stats
}

// Config carries the backend-agnostic settings read from the `broker` config
// block. Backends use only the keys relevant to them.
type Config struct {
	Type           string
	URL            string
	MaxConnections int
	ProbeTimeout   time.Duration
	HistorySize    int
}

// DefaultProbeTimeout bounds liveness probes when the config leaves the
// timeout unset.
const DefaultProbeTimeout = 5 * time.Second

// Builder constructs a backend from config.
type Builder func(cfg Config) (Broker, error)

// Registry maps backend type names to builders. Unknown names fail closed.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global backend registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a backend builder under the given type name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build constructs the backend named by cfg.Type.
func (r *Registry) Build(cfg Config) (Broker, error) {
	r.mu.RLock()
	builder, ok := r.builders[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown broker type: %q (registered: %v)", cfg.Type, r.Names())
	}
	return builder(cfg)
}

// Names returns the registered backend type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Register adds a backend builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build constructs a backend using the default registry.
func Build(cfg Config) (Broker, error) {
	return DefaultRegistry.Build(cfg)
}
