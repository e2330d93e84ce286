package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics counts per-action outcomes and refunds issued by the
// payment reconciliation engine.
type ReconciliationMetrics struct {
	actions     *prometheus.CounterVec
	refunds     *prometheus.CounterVec
	refundCents prometheus.Counter
}

// NewReconciliationMetrics registers the reconciliation metrics on reg.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storyline_reconciliation_actions_total",
		Help: "Reconciled checkout actions by type and outcome.",
	}, []string{"action", "outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storyline_reconciliation_refunds_total",
		Help: "Refund issuance attempts by outcome.",
	}, []string{"outcome"})
	refundCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storyline_reconciliation_refund_cents_total",
		Help: "Minor currency units refunded.",
	})
	reg.MustRegister(actions, refunds, refundCents)
	return &ReconciliationMetrics{
		actions:     actions,
		refunds:     refunds,
		refundCents: refundCents,
	}
}

// ObserveAction increments the counter for one reconciled action.
func (m *ReconciliationMetrics) ObserveAction(action, outcome string) {
	if m == nil || m.actions == nil {
		return
	}
	m.actions.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// ObserveRefund records a refund attempt; cents is only added on success.
func (m *ReconciliationMetrics) ObserveRefund(outcome string, cents int64) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
	if outcome == RefundOutcomeIssued && cents > 0 {
		m.refundCents.Add(float64(cents))
	}
}

const (
	RefundOutcomeIssued = "issued"
	RefundOutcomeFailed = "failed"
)
