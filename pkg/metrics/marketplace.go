package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the marketplace counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// MarketplaceMetrics counts lifecycle outcomes of reservations and money movements.
// A nil receiver is a no-op so services can run without a registry.
type MarketplaceMetrics struct {
	swept    *prometheus.CounterVec
	payouts  *prometheus.CounterVec
	refunds  *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

func NewMarketplaceMetrics(reg prometheus.Registerer) *MarketplaceMetrics {
	if reg == nil {
		return &MarketplaceMetrics{}
	}
	swept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "processed_total",
		Help:      "Rows changed by expiry sweeps.",
	}, []string{"sweep"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "payouts_total",
		Help:      "Seller payout attempts by outcome.",
	}, []string{"outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "refunds_total",
		Help:      "Refund attempts by outcome.",
	}, []string{"outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhooks_total",
		Help:      "Payment provider webhooks by event type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(swept, payouts, refunds, webhooks)
	return &MarketplaceMetrics{
		swept:    swept,
		payouts:  payouts,
		refunds:  refunds,
		webhooks: webhooks,
	}
}

func (m *MarketplaceMetrics) AddSwept(sweep string, n int) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(normalizeLabel(sweep)).Add(float64(n))
}

func (m *MarketplaceMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *MarketplaceMetrics) IncRefund(outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *MarketplaceMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
