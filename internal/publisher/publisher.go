// Package publisher implements the scheduled fetch-and-publish runtime:
// poll a market-data source on an interval, serialize what it returns, and
// publish it to the broker, self-monitoring the success rate.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/codec"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/market"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/ratelimit"
)

var (
	// ErrNotRunning is returned by PublishEvent on a stopped publisher.
	ErrNotRunning = errors.New("publisher: publisher not running")
	// ErrPublishFailed wraps broker failures surfaced by PublishEvent.
	ErrPublishFailed = errors.New("publisher: publish failed")
)

// FetchResult is what one fetch cycle produced: the successfully fetched
// events plus per-item failure diagnostics.
type FetchResult struct {
	Events []market.Event
	Failed int
	Errors []string
}

// Source is the per-type fetch hook. A returned error means the whole cycle
// failed; partial failures belong in the FetchResult.
type Source interface {
	Fetch(ctx context.Context) (*FetchResult, error)
}

// ChannelResolver picks the target channel for an event. The default derives
// it from the event kind.
type ChannelResolver func(ev market.Event) string

// Config tunes one publisher instance.
type Config struct {
	ID         string
	Interval   time.Duration
	RateLimit  int
	RatePeriod time.Duration
	Thresholds health.Thresholds
}

// HealthReport is the publisher's health_check response.
type HealthReport struct {
	PublisherID     string        `json:"publisher_id"`
	Status          health.Status `json:"status"`
	Running         bool          `json:"running"`
	Uptime          time.Duration `json:"uptime"`
	AvailableTokens float64       `json:"available_tokens"`
}

// StatsReport is the publisher's get_stats response.
type StatsReport struct {
	PublisherID    string  `json:"publisher_id"`
	Running        bool    `json:"running"`
	TotalPublished uint64  `json:"total_published"`
	TotalErrors    uint64  `json:"total_errors"`
	LastError      string  `json:"last_error,omitempty"`
	SuccessRate    float64 `json:"success_rate"`
}

// Publisher is the scheduled fetch-and-publish task.
type Publisher struct {
	cfg      Config
	source   Source
	broker   broker.Broker
	codec    codec.Codec
	limiter  *ratelimit.Bucket
	resolver ChannelResolver
	tracker  *health.Tracker
	log      zerolog.Logger
	prom     *metrics.Metrics
	tracer   trace.Tracer

	mu             sync.Mutex
	running        bool
	startedAt      time.Time
	totalPublished uint64
	totalErrors    uint64
	lastError      string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped publisher.
func New(cfg Config, source Source, b broker.Broker, c codec.Codec) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RatePeriod <= 0 {
		cfg.RatePeriod = time.Second
	}
	return &Publisher{
		cfg:      cfg,
		source:   source,
		broker:   b,
		codec:    c,
		limiter:  ratelimit.NewBucket(cfg.RateLimit, cfg.RatePeriod),
		resolver: func(ev market.Event) string { return market.ChannelFor(ev.Kind()) },
		tracker:  health.NewTracker(cfg.Thresholds),
		log:      logging.WithComponent("publisher." + cfg.ID),
		tracer:   otel.Tracer("marketstream/publisher"),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (p *Publisher) SetMetrics(prom *metrics.Metrics) { p.prom = prom }

// SetChannelResolver overrides the default kind-based channel resolution.
func (p *Publisher) SetChannelResolver(r ChannelResolver) {
	if r != nil {
		p.resolver = r
	}
}

// ID returns the configured publisher id.
func (p *Publisher) ID() string { return p.cfg.ID }

// Start launches the fetch-and-publish loop. Starting a running publisher is
// a no-op.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.startedAt = time.Now()
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.tracker.SetStatus(health.StatusHealthy)

	go p.run(ctx)
	p.log.Info().Dur("interval", p.cfg.Interval).Msg("publisher started")
	return nil
}

// Stop cancels the loop and waits for it to unwind. After Stop returns the
// publisher makes no further broker calls.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	<-p.done
	p.tracker.SetStatus(health.StatusStopped)
	p.log.Info().Msg("publisher stopped")
	return nil
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle runs one fetch-and-publish pass. Fetch failures are absorbed into
// the status event and health classification; the loop keeps going.
func (p *Publisher) cycle(ctx context.Context) {
	succeeded, failed := 0, 0
	var errs []string

	result, err := p.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failed++
		errs = append(errs, err.Error())
		p.recordError(err)
	} else {
		failed = result.Failed
		errs = append(errs, result.Errors...)

		for _, ev := range result.Events {
			if ctx.Err() != nil {
				return
			}
			if perr := p.PublishEvent(ctx, ev); perr != nil {
				failed++
				errs = append(errs, perr.Error())
				continue
			}
			succeeded++
		}
	}

	if failed > 0 {
		p.tracker.RecordError()
	} else {
		p.tracker.RecordSuccess()
	}

	p.emitStatus(ctx, succeeded, failed, errs)
}

func (p *Publisher) emitStatus(ctx context.Context, succeeded, failed int, errs []string) {
	rate := 100.0
	if total := succeeded + failed; total > 0 {
		rate = float64(succeeded) / float64(total) * 100
	}

	status := market.Status{
		PublisherID:      p.cfg.ID,
		Status:           string(p.cfg.Thresholds.ClassifyRate(rate)),
		SymbolsSucceeded: succeeded,
		SymbolsFailed:    failed,
		Errors:           errs,
		Timestamp:        time.Now().UTC(),
	}

	if err := p.PublishEvent(ctx, status); err != nil && ctx.Err() == nil {
		p.log.Warn().Err(err).Msg("status event publish failed")
	}
}

// PublishEvent serializes the event and publishes it to the channel chosen
// by the resolver, gated by the rate limiter.
func (p *Publisher) PublishEvent(ctx context.Context, ev market.Event) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	if err := p.limiter.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("publisher: acquiring rate-limit token: %w", err)
	}

	channel := p.resolver(ev)

	ctx, span := p.tracer.Start(ctx, "publisher.publish_event")
	defer span.End()

	payload, err := p.codec.Serialize(ev.Payload())
	if err != nil {
		p.recordError(err)
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	if err := p.broker.Publish(ctx, channel, payload); err != nil {
		p.recordError(err)
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	p.mu.Lock()
	p.totalPublished++
	p.mu.Unlock()
	p.prom.IncPublished(p.cfg.ID, channel)
	return nil
}

func (p *Publisher) recordError(err error) {
	p.mu.Lock()
	p.totalErrors++
	p.lastError = err.Error()
	p.mu.Unlock()
	p.prom.IncPublishError(p.cfg.ID)
}

// HealthCheck reports the publisher's liveness view.
func (p *Publisher) HealthCheck() HealthReport {
	p.mu.Lock()
	running := p.running
	startedAt := p.startedAt
	p.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startedAt)
	}
	return HealthReport{
		PublisherID:     p.cfg.ID,
		Status:          p.tracker.Status(),
		Running:         running,
		Uptime:          uptime,
		AvailableTokens: p.limiter.AvailableTokens(),
	}
}

// Stats reports the publisher's counters.
func (p *Publisher) Stats() StatsReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := 100.0
	if total := p.totalPublished + p.totalErrors; total > 0 {
		rate = float64(p.totalPublished) / float64(total) * 100
	}
	return StatsReport{
		PublisherID:    p.cfg.ID,
		Running:        p.running,
		TotalPublished: p.totalPublished,
		TotalErrors:    p.totalErrors,
		LastError:      p.lastError,
		SuccessRate:    rate,
	}
}
