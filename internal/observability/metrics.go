package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the billing-core counters shared across services.
type Metrics struct {
	ChargesTotal       *prometheus.CounterVec
	WebhookEventsTotal *prometheus.CounterVec
	CommissionsVoided  prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ChargesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumina",
			Subsystem: "wallet",
			Name:      "charges_total",
			Help:      "Wallet charge attempts by outcome.",
		}, []string{"outcome"}),
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumina",
			Subsystem: "payment",
			Name:      "webhook_events_total",
			Help:      "Payment provider webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CommissionsVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lumina",
			Subsystem: "affiliate",
			Name:      "commissions_voided_total",
			Help:      "Affiliate commissions voided by refunds or disputes.",
		}),
	}
	reg.MustRegister(m.ChargesTotal, m.WebhookEventsTotal, m.CommissionsVoided)
	return m
}

// CountWebhookEvent is nil-safe so tests can run without a registry.
func (m *Metrics) CountWebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
}
