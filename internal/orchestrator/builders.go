package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/config"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/market"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/publisher"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/push"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/subscriber"
)

// PublisherBuilder constructs a supervised component from one publisher
// spec. Builders are registered per type name; unknown types fail closed.
type PublisherBuilder func(spec config.PublisherSpec, o *Orchestrator) (*component, error)

// SubscriberBuilder is the subscriber-side equivalent.
type SubscriberBuilder func(spec config.SubscriberSpec, o *Orchestrator) (*component, error)

var (
	publisherBuilders = map[string]PublisherBuilder{
		"market_candle":  buildCandlePublisher,
		"market_breadth": buildBreadthPublisher,
	}
	subscriberBuilders = map[string]SubscriberBuilder{
		"log":          buildLogSubscriber,
		"candle_store": buildCandleStoreSubscriber,
		"push":         buildPushSubscriber,
	}
)

// RegisterPublisherType adds a publisher type to the registry, replacing any
// previous builder under the same name.
func RegisterPublisherType(name string, b PublisherBuilder) {
	publisherBuilders[name] = b
}

// RegisterSubscriberType adds a subscriber type to the registry.
func RegisterSubscriberType(name string, b SubscriberBuilder) {
	subscriberBuilders[name] = b
}

// Quoter returns the market-data source shared by publisher builders,
// defaulting to the simulated walk when none was injected.
func (o *Orchestrator) Quoter() market.Quoter {
	if o.quoter == nil {
		o.quoter = market.NewSimulatedQuoter()
	}
	return o.quoter
}

// SetQuoter injects a live market-data source before publishers are built.
func (o *Orchestrator) SetQuoter(q market.Quoter) { o.quoter = q }

func publisherConfig(spec config.PublisherSpec) publisher.Config {
	return publisher.Config{
		ID:         spec.ID,
		Interval:   time.Duration(spec.IntervalSeconds) * time.Second,
		RateLimit:  spec.RateLimit,
		Thresholds: health.Thresholds{},
	}
}

func publisherComponent(p *publisher.Publisher) *component {
	return &component{
		id:     p.ID(),
		start:  func(context.Context) error { return p.Start() },
		stop:   func(context.Context) error { return p.Stop() },
		status: func() health.Status { return p.HealthCheck().Status },
		stats:  func() any { return p.Stats() },
	}
}

func subscriberComponent(s *subscriber.Subscriber) *component {
	return &component{
		id:     s.ID(),
		start:  s.Start,
		stop:   s.Stop,
		status: func() health.Status { return s.HealthCheck().Status },
		stats:  func() any { return s.Stats() },
	}
}

func buildCandlePublisher(spec config.PublisherSpec, o *Orchestrator) (*component, error) {
	if len(spec.Symbols) == 0 {
		return nil, fmt.Errorf("publisher %s: no symbols configured", spec.ID)
	}
	src := publisher.NewCandleSource(o.Quoter(), spec.Symbols)
	p := publisher.New(publisherConfig(spec), src, o.broker, o.codec)
	p.SetMetrics(o.prom)
	return publisherComponent(p), nil
}

func buildBreadthPublisher(spec config.PublisherSpec, o *Orchestrator) (*component, error) {
	if len(spec.Symbols) == 0 {
		return nil, fmt.Errorf("publisher %s: no symbols configured", spec.ID)
	}
	src := publisher.NewBreadthSource(o.Quoter(), spec.Symbols)
	p := publisher.New(publisherConfig(spec), src, o.broker, o.codec)
	p.SetMetrics(o.prom)
	return publisherComponent(p), nil
}

func subscriberConfig(spec config.SubscriberSpec) subscriber.Config {
	return subscriber.Config{ID: spec.ID, Channels: spec.Channels}
}

func buildLogSubscriber(spec config.SubscriberSpec, o *Orchestrator) (*component, error) {
	handler := subscriber.LogHandler(logging.WithComponent("subscriber." + spec.ID))
	s := subscriber.New(subscriberConfig(spec), o.broker, o.codec, handler, o.dlqManager)
	s.SetMetrics(o.prom)
	return subscriberComponent(s), nil
}

func buildCandleStoreSubscriber(spec config.SubscriberSpec, o *Orchestrator) (*component, error) {
	if spec.FilePath == "" {
		return nil, fmt.Errorf("subscriber %s: candle_store requires file_path", spec.ID)
	}
	db, err := bbolt.Open(spec.FilePath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: opening store: %w", spec.ID, err)
	}
	o.stores = append(o.stores, db)

	s := subscriber.New(subscriberConfig(spec), o.broker, o.codec, nil, o.dlqManager)
	s.SetStore(db)
	s.SetHandler(subscriber.CandleStoreHandler(s))
	s.SetMetrics(o.prom)
	return subscriberComponent(s), nil
}

func buildPushSubscriber(spec config.SubscriberSpec, o *Orchestrator) (*component, error) {
	defaults := spec.DefaultChannels
	if len(defaults) == 0 {
		defaults = spec.Channels
	}
	gateway := push.New(push.Config{Host: spec.Host, Port: spec.Port, DefaultChannels: defaults})
	gateway.SetMetrics(o.prom)

	s := subscriber.New(subscriberConfig(spec), o.broker, o.codec, gateway.OnMessage, o.dlqManager)
	s.SetMetrics(o.prom)

	return &component{
		id: spec.ID,
		start: func(ctx context.Context) error {
			if err := gateway.Start(); err != nil {
				return err
			}
			return s.Start(ctx)
		},
		stop: func(ctx context.Context) error {
			serr := s.Stop(ctx)
			if gerr := gateway.Stop(ctx); gerr != nil && serr == nil {
				serr = gerr
			}
			return serr
		},
		status: func() health.Status { return s.HealthCheck().Status },
		stats: func() any {
			return map[string]any{
				"subscriber": s.Stats(),
				"push":       gateway.Stats(),
			}
		},
	}, nil
}
