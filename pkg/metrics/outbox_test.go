package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutboxMetricsRecordsLagOnlyForPublished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObserveDelivery("word_published", DeliveryPublished, 1500*time.Millisecond)
	m.ObserveDelivery("word_published", DeliveryRetry, time.Hour)
	m.ObserveDelivery("checkout_completed", DeliveryDeadLettered, time.Hour)
	m.ObserveBatch(3)
	m.ObserveBatch(0)

	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("word_published", DeliveryPublished)); got != 1 {
		t.Fatalf("expected one published delivery, got %f", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("checkout_completed", DeliveryDeadLettered)); got != 1 {
		t.Fatalf("expected one dead letter, got %f", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	lag, err := findMetric(mfs, "storyline_outbox_publish_lag_seconds", map[string]string{"event_type": "word_published"})
	if err != nil {
		t.Fatal(err)
	}
	if lag.GetHistogram().GetSampleCount() != 1 || lag.GetHistogram().GetSampleSum() != 1.5 {
		t.Fatalf("unexpected lag histogram %v", lag.GetHistogram())
	}
	batch, err := findMetric(mfs, "storyline_outbox_batch_size", nil)
	if err != nil {
		t.Fatal(err)
	}
	if batch.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("empty batches must not be observed, got %d samples", batch.GetHistogram().GetSampleCount())
	}
}
