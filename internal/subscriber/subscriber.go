// Package subscriber implements the inbound half of the runtime: channel
// registrations on a broker, deserialization, handler dispatch, and DLQ
// forwarding for anything that fails on the way through.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/codec"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/dlq"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
)

// ErrDatabaseNotConfigured is returned by Store on a subscriber built
// without a backing database.
var ErrDatabaseNotConfigured = errors.New("subscriber: database not configured")

// Handler is the user-supplied message hook. It receives the deserialized
// payload; a returned error routes the original bytes to the DLQ.
type Handler func(ctx context.Context, channel string, data any) error

// Config tunes one subscriber instance.
type Config struct {
	ID         string
	Channels   []string
	Thresholds health.Thresholds
}

// HealthReport is the subscriber's health_check response.
type HealthReport struct {
	SubscriberID string        `json:"subscriber_id"`
	Status       health.Status `json:"status"`
	Running      bool          `json:"running"`
	Channels     []string      `json:"channels"`
}

// StatsReport is the subscriber's get_stats response.
type StatsReport struct {
	SubscriberID   string            `json:"subscriber_id"`
	Running        bool              `json:"running"`
	TotalReceived  uint64            `json:"total_received"`
	TotalProcessed uint64            `json:"total_processed"`
	TotalErrors    uint64            `json:"total_errors"`
	ByChannel      map[string]uint64 `json:"by_channel"`
	SuccessRate    float64           `json:"success_rate"`
}

// Subscriber consumes one or more broker channels and feeds a handler.
type Subscriber struct {
	cfg     Config
	broker  broker.Broker
	codec   codec.Codec
	handler Handler
	deadQ   *dlq.Manager
	tracker *health.Tracker
	log     zerolog.Logger
	prom    *metrics.Metrics
	tracer  trace.Tracer
	db      *bbolt.DB

	mu             sync.Mutex
	inflight       sync.WaitGroup
	running        bool
	stopping       bool
	registrations  map[string]broker.HandlerID
	totalReceived  uint64
	totalProcessed uint64
	totalErrors    uint64
	byChannel      map[string]uint64
}

// New creates a stopped subscriber. The DLQ manager is optional; without
// one, failed messages are logged and dropped.
func New(cfg Config, b broker.Broker, c codec.Codec, h Handler, deadQ *dlq.Manager) *Subscriber {
	return &Subscriber{
		cfg:           cfg,
		broker:        b,
		codec:         c,
		handler:       h,
		deadQ:         deadQ,
		tracker:       health.NewTracker(cfg.Thresholds),
		log:           logging.WithComponent("subscriber." + cfg.ID),
		tracer:        otel.Tracer("marketstream/subscriber"),
		registrations: make(map[string]broker.HandlerID),
		byChannel:     make(map[string]uint64),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (s *Subscriber) SetMetrics(prom *metrics.Metrics) { s.prom = prom }

// SetStore attaches the backing database used by state-persisting handlers.
func (s *Subscriber) SetStore(db *bbolt.DB) { s.db = db }

// SetHandler replaces the message hook. Used by handlers that need the
// subscriber constructed first, such as the store-backed ones.
func (s *Subscriber) SetHandler(h Handler) { s.handler = h }

// ID returns the configured subscriber id.
func (s *Subscriber) ID() string { return s.cfg.ID }

// Store returns the transactional handle to the backing database.
func (s *Subscriber) Store() (*bbolt.DB, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	return s.db, nil
}

// Start registers one broker subscription per configured channel. A failure
// partway through rolls back the registrations already made.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopping = false
	s.mu.Unlock()

	for _, channel := range s.cfg.Channels {
		id, err := s.broker.Subscribe(ctx, channel, s.handleMessage)
		if err != nil {
			_ = s.Stop(ctx)
			return fmt.Errorf("subscriber %s: subscribing %s: %w", s.cfg.ID, channel, err)
		}
		s.mu.Lock()
		s.registrations[channel] = id
		s.mu.Unlock()
	}

	s.tracker.SetStatus(health.StatusHealthy)
	s.log.Info().Strs("channels", s.cfg.Channels).Msg("subscriber started")
	return nil
}

// Stop removes every channel registration before marking the subscriber
// stopped. Unsubscribe failures are logged and do not block the rest.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	regs := make(map[string]broker.HandlerID, len(s.registrations))
	for ch, id := range s.registrations {
		regs[ch] = id
	}
	s.registrations = make(map[string]broker.HandlerID)
	s.mu.Unlock()

	for channel, id := range regs {
		if err := s.broker.UnsubscribeHandler(ctx, channel, id); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("unsubscribe failed")
		}
	}

	// Handlers already dispatched before the stopping gate flipped may still
	// be running; no broker or DLQ call may happen after Stop returns.
	s.inflight.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.tracker.SetStatus(health.StatusStopped)
	s.log.Info().Msg("subscriber stopped")
	return nil
}

// handleMessage is the broker-invoked dispatch path.
func (s *Subscriber) handleMessage(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	if s.stopping || !s.running {
		s.mu.Unlock()
		return nil
	}
	s.inflight.Add(1)
	s.totalReceived++
	s.byChannel[channel]++
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, span := s.tracer.Start(ctx, "subscriber.handle_message")
	defer span.End()

	data, err := s.codec.Deserialize(payload)
	if err != nil {
		s.recordFailure(channel, payload, err)
		return err
	}

	if err := s.handler(ctx, channel, data); err != nil {
		s.recordFailure(channel, payload, err)
		return err
	}

	s.mu.Lock()
	s.totalProcessed++
	s.mu.Unlock()
	s.tracker.RecordSuccess()
	s.prom.IncProcessed(s.cfg.ID, channel)
	return nil
}

func (s *Subscriber) recordFailure(channel string, payload []byte, cause error) {
	s.mu.Lock()
	s.totalErrors++
	s.mu.Unlock()
	s.tracker.RecordError()
	s.prom.IncProcessError(s.cfg.ID)

	if s.deadQ == nil {
		s.log.Error().Err(cause).Str("channel", channel).Msg("message failed, no DLQ configured")
		return
	}
	if _, err := s.deadQ.AddFailedMessage("", channel, payload, cause, s.cfg.ID); err != nil {
		s.log.Error().Err(err).Str("channel", channel).Msg("DLQ forward failed")
	}
}

// HealthCheck reports the subscriber's liveness view.
func (s *Subscriber) HealthCheck() HealthReport {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return HealthReport{
		SubscriberID: s.cfg.ID,
		Status:       s.tracker.Status(),
		Running:      running,
		Channels:     append([]string(nil), s.cfg.Channels...),
	}
}

// Stats reports the subscriber's counters.
func (s *Subscriber) Stats() StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChannel := make(map[string]uint64, len(s.byChannel))
	for ch, n := range s.byChannel {
		byChannel[ch] = n
	}
	rate := 100.0
	if s.totalReceived > 0 {
		rate = float64(s.totalProcessed) / float64(s.totalReceived) * 100
	}
	return StatsReport{
		SubscriberID:   s.cfg.ID,
		Running:        s.running,
		TotalReceived:  s.totalReceived,
		TotalProcessed: s.totalProcessed,
		TotalErrors:    s.totalErrors,
		ByChannel:      byChannel,
		SuccessRate:    rate,
	}
}
