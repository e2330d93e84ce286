package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DeliveryPublished    = "published"
	DeliveryRetry        = "retry"
	DeliveryDeadLettered = "dead_lettered"
)

// OutboxMetrics covers the relay that drains outbox_events into Pub/Sub.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	lag        *prometheus.HistogramVec
	batch      prometheus.Histogram
}

// NewOutboxMetrics registers the relay metrics on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyline_outbox_deliveries_total",
			Help: "Outbox rows handled by event type and delivery outcome.",
		}, []string{"event_type", "outcome"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storyline_outbox_publish_lag_seconds",
			Help:    "Time between an outbox row being written and its successful publish.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"event_type"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storyline_outbox_batch_size",
			Help:    "Rows fetched per non-empty relay batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
	reg.MustRegister(m.deliveries, m.lag, m.batch)
	return m
}

// ObserveDelivery counts one row outcome. Lag is recorded only for published rows.
func (m *OutboxMetrics) ObserveDelivery(eventType, outcome string, lag time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.deliveries.WithLabelValues(eventType, normalizeLabel(outcome)).Inc()
	if outcome == DeliveryPublished && lag > 0 {
		m.lag.WithLabelValues(eventType).Observe(lag.Seconds())
	}
}

// ObserveBatch records the size of a fetched batch.
func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batch == nil || size <= 0 {
		return
	}
	m.batch.Observe(float64(size))
}
