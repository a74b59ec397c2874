package dlq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
)

// RetryFunc re-delivers a captured payload. It is supplied per retry call or
// configured once for the background loop.
type RetryFunc func(ctx context.Context, channel string, payload []byte) error

// Config tunes the manager.
type Config struct {
	MaxRetries    int
	RetentionDays int

	// AutoRetry enables the background retry/purge loop. Off by default so
	// tests stay deterministic.
	AutoRetry     bool
	RetryInterval time.Duration
}

// Stats is an aggregate snapshot of DLQ activity.
type Stats struct {
	TotalFailures  int64            `json:"total_failures"`
	TotalMessages  int              `json:"total_messages"`
	TotalRetried   int64            `json:"total_retried"`
	TotalSucceeded int64            `json:"total_succeeded"`
	TotalPurged    int64            `json:"total_purged"`
	ByChannel      map[string]int64 `json:"by_channel"`
	BySubscriber   map[string]int64 `json:"by_subscriber"`
}

// Manager owns the DLQ: an in-memory index over a durable store. All index
// mutation is serialized; retry callbacks run outside the lock.
type Manager struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	prom  *metrics.Metrics

	retryHandler RetryFunc

	mu       sync.Mutex
	messages map[string]*Message

	totalFailures  int64
	totalRetried   int64
	totalSucceeded int64
	totalPurged    int64
	byChannel      map[string]int64
	bySubscriber   map[string]int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a stopped manager over the given store.
func NewManager(cfg Config, store Store) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		log:          logging.WithComponent("dlq"),
		messages:     make(map[string]*Message),
		byChannel:    make(map[string]int64),
		bySubscriber: make(map[string]int64),
	}
}

// SetMetrics attaches Prometheus instrumentation.
func (m *Manager) SetMetrics(prom *metrics.Metrics) { m.prom = prom }

// SetRetryHandler configures the delivery function used by the background
// retry loop, typically a republish to the broker.
func (m *Manager) SetRetryHandler(fn RetryFunc) { m.retryHandler = fn }

// Start loads previously persisted messages and, when auto-retry is on,
// launches the background retry/purge loop.
func (m *Manager) Start(ctx context.Context) error {
	loaded, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("dlq: loading persisted messages: %w", err)
	}

	m.mu.Lock()
	for _, msg := range loaded {
		m.messages[msg.ID] = msg
	}
	count := len(m.messages)
	m.mu.Unlock()

	m.log.Info().Int("recovered", count).Msg("dlq manager started")

	if m.cfg.AutoRetry {
		loopCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.loop(loopCtx)
	}
	return nil
}

// Stop halts the background loop, then flushes the in-memory messages back
// to storage.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}

	m.mu.Lock()
	pending := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		pending = append(pending, msg)
	}
	m.mu.Unlock()

	for _, msg := range pending {
		if err := m.store.Put(msg); err != nil {
			return fmt.Errorf("dlq: flushing message %q: %w", msg.ID, err)
		}
	}
	m.log.Info().Int("flushed", len(pending)).Msg("dlq manager stopped")
	return nil
}

// AddFailedMessage captures a failed delivery. An empty id gets a generated
// ULID. The record is persisted immediately.
func (m *Manager) AddFailedMessage(id, channel string, payload []byte, cause error, subscriberID string) (*Message, error) {
	if id == "" {
		id = newMessageID()
	}

	now := time.Now().Unix()
	msg := &Message{
		ID:                id,
		Channel:           channel,
		Payload:           append([]byte(nil), payload...),
		ErrorMessage:      cause.Error(),
		ErrorType:         errorTypeOf(cause),
		OriginalTimestamp: now,
		FailureTimestamp:  now,
		RetryCount:        0,
		MaxRetries:        m.cfg.MaxRetries,
		SubscriberID:      subscriberID,
	}

	m.mu.Lock()
	m.messages[id] = msg
	m.totalFailures++
	m.byChannel[channel]++
	m.bySubscriber[subscriberID]++
	m.mu.Unlock()

	m.prom.IncDLQMessage(channel, subscriberID)

	if err := m.store.Put(msg); err != nil {
		return nil, fmt.Errorf("dlq: persisting message %q: %w", id, err)
	}

	m.log.Warn().
		Str("id", id).
		Str("channel", channel).
		Str("subscriber", subscriberID).
		Str("error_type", msg.ErrorType).
		Msg("message captured by dlq")
	return msg, nil
}

// RetryMessage re-delivers one message through retryFn. It returns true only
// when the delivery succeeded and the message was removed. A message past its
// retry budget is returned false without invoking retryFn.
func (m *Manager) RetryMessage(ctx context.Context, id string, retryFn RetryFunc) (bool, error) {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("dlq: message %q not found", id)
	}
	if !msg.IsRetryable() {
		m.mu.Unlock()
		return false, nil
	}
	channel := msg.Channel
	payload := append([]byte(nil), msg.Payload...)
	m.mu.Unlock()

	err := retryFn(ctx, channel, payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if msg.RetryCount < msg.MaxRetries {
			msg.RetryCount++
		}
		m.totalRetried++
		m.prom.IncDLQRetried()
		if perr := m.store.Put(msg); perr != nil {
			return false, fmt.Errorf("dlq: persisting retry state for %q: %w", id, perr)
		}
		return false, nil
	}

	delete(m.messages, id)
	m.totalSucceeded++
	m.prom.DLQResolved()
	if derr := m.store.Delete(id); derr != nil {
		return true, fmt.Errorf("dlq: removing retried message %q: %w", id, derr)
	}
	return true, nil
}

// GetMessage returns the message with the given id.
func (m *Manager) GetMessage(id string) (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, false
	}
	copied := *msg
	return &copied, true
}

// MessagesByChannel returns the captured messages originating on a channel.
func (m *Manager) MessagesByChannel(channel string) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.Channel == channel {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out
}

// RetryableMessages returns the messages still inside their retry budget.
func (m *Manager) RetryableMessages() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.IsRetryable() {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out
}

// Stats returns aggregate counters plus per-channel and per-subscriber
// failure breakdowns.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChannel := make(map[string]int64, len(m.byChannel))
	for k, v := range m.byChannel {
		byChannel[k] = v
	}
	bySubscriber := make(map[string]int64, len(m.bySubscriber))
	for k, v := range m.bySubscriber {
		bySubscriber[k] = v
	}

	return Stats{
		TotalFailures:  m.totalFailures,
		TotalMessages:  len(m.messages),
		TotalRetried:   m.totalRetried,
		TotalSucceeded: m.totalSucceeded,
		TotalPurged:    m.totalPurged,
		ByChannel:      byChannel,
		BySubscriber:   bySubscriber,
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retryPending(ctx)
			m.purgeExpired()
		}
	}
}

func (m *Manager) retryPending(ctx context.Context) {
	if m.retryHandler == nil {
		return
	}
	for _, msg := range m.RetryableMessages() {
		if ctx.Err() != nil {
			return
		}
		ok, err := m.RetryMessage(ctx, msg.ID, m.retryHandler)
		if err != nil {
			m.log.Error().Err(err).Str("id", msg.ID).Msg("automatic retry failed")
			continue
		}
		if ok {
			m.log.Info().Str("id", msg.ID).Str("channel", msg.Channel).Msg("dlq message retried successfully")
		}
	}
}

func (m *Manager) purgeExpired() {
	m.mu.Lock()
	var purged []string
	for id, msg := range m.messages {
		if msg.ShouldDiscard(m.cfg.RetentionDays) {
			delete(m.messages, id)
			purged = append(purged, id)
		}
	}
	m.totalPurged += int64(len(purged))
	m.mu.Unlock()

	for _, id := range purged {
		if err := m.store.Delete(id); err != nil {
			m.log.Error().Err(err).Str("id", id).Msg("purge delete failed")
		}
	}
	if len(purged) > 0 {
		m.prom.AddDLQPurged(len(purged))
		m.log.Info().Int("purged", len(purged)).Msg("expired dlq messages purged")
	}
}
