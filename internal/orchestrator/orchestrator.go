// Package orchestrator wires the configured components together and
// supervises them: build serializer, broker, DLQ, publishers, and
// subscribers from config, run them, and restart what turns unhealthy.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	_ "github.com/vishwanath-tns/StockScreeer-sub011/internal/broker/memory"
	_ "github.com/vishwanath-tns/StockScreeer-sub011/internal/broker/natsbroker"
	_ "github.com/vishwanath-tns/StockScreeer-sub011/internal/broker/redisbroker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/codec"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/config"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/dlq"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/market"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
)

// component is the uniform supervision surface over publishers, subscribers,
// and the push gateway.
type component struct {
	id     string
	start  func(ctx context.Context) error
	stop   func(ctx context.Context) error
	status func() health.Status
	stats  func() any
}

// Orchestrator owns the component graph built from one Config.
type Orchestrator struct {
	cfg  *config.Config
	log  zerolog.Logger
	prom *metrics.Metrics

	codec      codec.Codec
	broker     broker.Broker
	dlqManager *dlq.Manager
	dlqStore   dlq.Store
	quoter     market.Quoter

	publishers  []*component
	subscribers []*component
	stores      []*bbolt.DB

	mu       sync.Mutex
	running  bool
	restarts map[string]int

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New creates an orchestrator for the given configuration. Nothing is built
// until the Build steps or Start run.
func New(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		log:      logging.WithComponent("orchestrator"),
		restarts: make(map[string]int),
	}
}

// SetMetrics attaches Prometheus instrumentation, propagated to every
// component built afterwards.
func (o *Orchestrator) SetMetrics(prom *metrics.Metrics) { o.prom = prom }

// BuildSerializer constructs the wire codec. Idempotent.
func (o *Orchestrator) BuildSerializer() error {
	if o.codec != nil {
		return nil
	}
	c, err := codec.New(o.cfg.Serializer.Type)
	if err != nil {
		return err
	}
	o.codec = c
	return nil
}

// BuildBroker constructs the configured broker backend. Idempotent.
func (o *Orchestrator) BuildBroker() error {
	if o.broker != nil {
		return nil
	}
	b, err := broker.Build(broker.Config{
		Type:           o.cfg.Broker.Type,
		URL:            o.cfg.Broker.URL,
		MaxConnections: o.cfg.Broker.MaxConnections,
	})
	if err != nil {
		return err
	}
	o.broker = b
	return nil
}

// BuildDLQ constructs the dead-letter manager when enabled. Idempotent.
// Requires the broker, which backs the default republish retry handler.
func (o *Orchestrator) BuildDLQ() error {
	if o.dlqManager != nil || !o.cfg.DLQ.Enabled {
		return nil
	}
	if err := o.BuildBroker(); err != nil {
		return err
	}

	store, err := dlq.NewBoltStore(o.cfg.DLQ.FilePath)
	if err != nil {
		return err
	}
	o.dlqStore = store

	m := dlq.NewManager(dlq.Config{
		MaxRetries:    o.cfg.DLQ.MaxRetries,
		RetentionDays: o.cfg.DLQ.RetentionDays,
		AutoRetry:     o.cfg.DLQ.AutoRetry,
		RetryInterval: time.Duration(o.cfg.DLQ.RetryIntervalSeconds) * time.Second,
	}, store)
	m.SetMetrics(o.prom)
	m.SetRetryHandler(func(ctx context.Context, channel string, payload []byte) error {
		return o.broker.Publish(ctx, channel, payload)
	})
	o.dlqManager = m
	return nil
}

// BuildPublishers constructs every enabled publisher through its type's
// registered builder. Idempotent; unknown types fail closed.
func (o *Orchestrator) BuildPublishers() error {
	if o.publishers != nil {
		return nil
	}
	if err := o.BuildSerializer(); err != nil {
		return err
	}
	if err := o.BuildBroker(); err != nil {
		return err
	}

	built := make([]*component, 0, len(o.cfg.Publishers))
	for _, spec := range o.cfg.Publishers {
		if !spec.Enabled {
			continue
		}
		builder, ok := publisherBuilders[spec.Type]
		if !ok {
			return fmt.Errorf("orchestrator: unknown publisher type %q (id %s)", spec.Type, spec.ID)
		}
		comp, err := builder(spec, o)
		if err != nil {
			return fmt.Errorf("orchestrator: building publisher %s: %w", spec.ID, err)
		}
		built = append(built, comp)
	}
	o.publishers = built
	return nil
}

// BuildSubscribers constructs every enabled subscriber through its type's
// registered builder. Idempotent; unknown types fail closed.
func (o *Orchestrator) BuildSubscribers() error {
	if o.subscribers != nil {
		return nil
	}
	if err := o.BuildSerializer(); err != nil {
		return err
	}
	if err := o.BuildBroker(); err != nil {
		return err
	}
	if err := o.BuildDLQ(); err != nil {
		return err
	}

	built := make([]*component, 0, len(o.cfg.Subscribers))
	for _, spec := range o.cfg.Subscribers {
		if !spec.Enabled {
			continue
		}
		builder, ok := subscriberBuilders[spec.Type]
		if !ok {
			return fmt.Errorf("orchestrator: unknown subscriber type %q (id %s)", spec.Type, spec.ID)
		}
		comp, err := builder(spec, o)
		if err != nil {
			return fmt.Errorf("orchestrator: building subscriber %s: %w", spec.ID, err)
		}
		built = append(built, comp)
	}
	o.subscribers = built
	return nil
}

// Start builds anything not yet built, connects the broker, and starts every
// component plus the supervision loop. Broker connect failures are fatal.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if err := o.BuildSerializer(); err != nil {
		return err
	}
	if err := o.BuildBroker(); err != nil {
		return err
	}
	if err := o.BuildDLQ(); err != nil {
		return err
	}
	if err := o.BuildPublishers(); err != nil {
		return err
	}
	if err := o.BuildSubscribers(); err != nil {
		return err
	}

	if err := o.broker.Connect(ctx); err != nil {
		return fmt.Errorf("orchestrator: connecting broker: %w", err)
	}
	if o.dlqManager != nil {
		if err := o.dlqManager.Start(ctx); err != nil {
			_ = o.broker.Disconnect(ctx)
			return fmt.Errorf("orchestrator: starting DLQ: %w", err)
		}
	}

	// A mid-start failure must not leak what already came up.
	var started []*component
	unwind := func(err error) error {
		for i := len(started) - 1; i >= 0; i-- {
			if serr := started[i].stop(ctx); serr != nil {
				o.log.Warn().Err(serr).Str("component", started[i].id).Msg("unwind stop failed")
			}
		}
		if o.dlqManager != nil {
			if serr := o.dlqManager.Stop(); serr != nil {
				o.log.Warn().Err(serr).Msg("unwind DLQ stop failed")
			}
		}
		if serr := o.broker.Disconnect(ctx); serr != nil {
			o.log.Warn().Err(serr).Msg("unwind broker disconnect failed")
		}
		return err
	}

	for _, c := range o.subscribers {
		if err := c.start(ctx); err != nil {
			return unwind(fmt.Errorf("orchestrator: starting subscriber %s: %w", c.id, err))
		}
		started = append(started, c)
	}
	for _, c := range o.publishers {
		if err := c.start(ctx); err != nil {
			return unwind(fmt.Errorf("orchestrator: starting publisher %s: %w", c.id, err))
		}
		started = append(started, c)
	}

	hctx, cancel := context.WithCancel(context.Background())
	o.healthCancel = cancel
	o.healthDone = make(chan struct{})
	go o.healthLoop(hctx)

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	o.log.Info().
		Int("publishers", len(o.publishers)).
		Int("subscribers", len(o.subscribers)).
		Msg("orchestrator started")
	return nil
}

// Stop cancels supervision first so a restart never races an intentional
// shutdown, then stops components fault-tolerantly and tears down shared
// resources. The first error is reported; the teardown always completes.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	if o.healthCancel != nil {
		o.healthCancel()
		<-o.healthDone
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, c := range o.subscribers {
		if err := c.stop(ctx); err != nil {
			o.log.Warn().Err(err).Str("component", c.id).Msg("stop failed")
			record(err)
		}
	}
	for _, c := range o.publishers {
		if err := c.stop(ctx); err != nil {
			o.log.Warn().Err(err).Str("component", c.id).Msg("stop failed")
			record(err)
		}
	}

	if o.dlqManager != nil {
		record(o.dlqManager.Stop())
	}
	if o.dlqStore != nil {
		record(o.dlqStore.Close())
	}
	for _, db := range o.stores {
		record(db.Close())
	}
	record(o.broker.Disconnect(ctx))

	o.log.Info().Msg("orchestrator stopped")
	return firstErr
}

// IsRunning reports whether Start has completed and Stop has not.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// healthLoop polls component health and restarts unhealthy ones when
// configured, up to the per-component attempt budget.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer close(o.healthDone)

	ticker := time.NewTicker(o.cfg.Health.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.checkComponents(ctx)
		}
	}
}

func (o *Orchestrator) checkComponents(ctx context.Context) {
	if !o.cfg.Health.RestartOnFailure {
		return
	}
	for _, c := range append(append([]*component(nil), o.publishers...), o.subscribers...) {
		if c.status() != health.StatusUnhealthy {
			// A recovered component earns its full restart budget back.
			// Exhausted components stay abandoned.
			if c.status() == health.StatusHealthy {
				o.mu.Lock()
				if n := o.restarts[c.id]; n > 0 && n <= o.cfg.Health.MaxRestartAttempts {
					o.restarts[c.id] = 0
				}
				o.mu.Unlock()
			}
			continue
		}
		o.restart(ctx, c)
	}
}

func (o *Orchestrator) restart(ctx context.Context, c *component) {
	o.mu.Lock()
	attempts := o.restarts[c.id]
	if attempts >= o.cfg.Health.MaxRestartAttempts {
		o.mu.Unlock()
		if attempts == o.cfg.Health.MaxRestartAttempts {
			// Log the abandonment once, then leave the component down.
			o.mu.Lock()
			o.restarts[c.id]++
			o.mu.Unlock()
			o.log.Error().Str("component", c.id).Msg("restart budget exhausted, component stays stopped")
			if err := c.stop(ctx); err != nil {
				o.log.Warn().Err(err).Str("component", c.id).Msg("final stop failed")
			}
		}
		return
	}
	o.restarts[c.id] = attempts + 1
	o.mu.Unlock()

	o.log.Warn().Str("component", c.id).Int("attempt", attempts+1).Msg("restarting unhealthy component")

	if err := c.stop(ctx); err != nil {
		o.log.Warn().Err(err).Str("component", c.id).Msg("restart stop failed")
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(o.cfg.Health.RestartDelay()):
	}

	if err := c.start(ctx); err != nil {
		o.log.Error().Err(err).Str("component", c.id).Msg("restart failed")
	}
}

// Stats aggregates orchestrator flags with every component's own counters,
// keyed by configured id.
func (o *Orchestrator) Stats() map[string]any {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	pubs := make(map[string]any, len(o.publishers))
	for _, c := range o.publishers {
		pubs[c.id] = c.stats()
	}
	subs := make(map[string]any, len(o.subscribers))
	for _, c := range o.subscribers {
		subs[c.id] = c.stats()
	}

	out := map[string]any{
		"running":          running,
		"publisher_count":  len(o.publishers),
		"subscriber_count": len(o.subscribers),
		"publishers":       pubs,
		"subscribers":      subs,
	}
	if o.broker != nil {
		out["broker"] = o.broker.Stats()
	}
	if o.dlqManager != nil {
		out["dlq"] = o.dlqManager.Stats()
	}
	return out
}
