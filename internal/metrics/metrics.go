// Package metrics exposes Prometheus instrumentation for the messaging
// pipeline. A nil *Metrics is a valid no-op so components can run
// uninstrumented in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "marketstream"

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// Metrics groups the pipeline collectors.
type Metrics struct {
	publishedTotal   *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	processedTotal   *prometheus.CounterVec
	processErrors    *prometheus.CounterVec
	dlqMessagesTotal *prometheus.CounterVec
	dlqRetriedTotal  prometheus.Counter
	dlqPurgedTotal   prometheus.Counter
	dlqCurrent       prometheus.Gauge
	pushClients      prometheus.Gauge
	pushBroadcasts   prometheus.Counter
}

// New creates the collectors and registers them with registerer. A nil
// registerer falls back to the default registry.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		publishedTotal:   newCounterVec("publisher", "published_total", "Events published per publisher and channel", []string{"publisher", "channel"}),
		publishErrors:    newCounterVec("publisher", "errors_total", "Publish failures per publisher", []string{"publisher"}),
		processedTotal:   newCounterVec("subscriber", "processed_total", "Messages processed per subscriber and channel", []string{"subscriber", "channel"}),
		processErrors:    newCounterVec("subscriber", "errors_total", "Processing failures per subscriber", []string{"subscriber"}),
		dlqMessagesTotal: newCounterVec("dlq", "messages_total", "Messages captured by the dead letter queue", []string{"channel", "subscriber"}),
		dlqRetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dlq", Name: "retried_total",
			Help: "Retry attempts made against DLQ messages",
		}),
		dlqPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dlq", Name: "purged_total",
			Help: "DLQ messages dropped by retention purge",
		}),
		dlqCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dlq", Name: "messages_current",
			Help: "Messages currently held in the dead letter queue",
		}),
		pushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "push", Name: "clients",
			Help: "Currently connected push clients",
		}),
		pushBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "broadcasts_total",
			Help: "Messages broadcast to push clients",
		}),
	}

	collectors := []prometheus.Collector{
		m.publishedTotal, m.publishErrors,
		m.processedTotal, m.processErrors,
		m.dlqMessagesTotal, m.dlqRetriedTotal, m.dlqPurgedTotal, m.dlqCurrent,
		m.pushClients, m.pushBroadcasts,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) IncPublished(publisher, channel string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(publisher, channel).Inc()
}

func (m *Metrics) IncPublishError(publisher string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(publisher).Inc()
}

func (m *Metrics) IncProcessed(subscriber, channel string) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(subscriber, channel).Inc()
}

func (m *Metrics) IncProcessError(subscriber string) {
	if m == nil {
		return
	}
	m.processErrors.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) IncDLQMessage(channel, subscriber string) {
	if m == nil {
		return
	}
	m.dlqMessagesTotal.WithLabelValues(channel, subscriber).Inc()
	m.dlqCurrent.Inc()
}

func (m *Metrics) IncDLQRetried() {
	if m == nil {
		return
	}
	m.dlqRetriedTotal.Inc()
}

func (m *Metrics) DLQResolved() {
	if m == nil {
		return
	}
	m.dlqCurrent.Dec()
}

func (m *Metrics) AddDLQPurged(n int) {
	if m == nil {
		return
	}
	m.dlqPurgedTotal.Add(float64(n))
	m.dlqCurrent.Sub(float64(n))
}

func (m *Metrics) SetPushClients(n int) {
	if m == nil {
		return
	}
	m.pushClients.Set(float64(n))
}

func (m *Metrics) IncPushBroadcast() {
	if m == nil {
		return
	}
	m.pushBroadcasts.Inc()
}
