package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMarketplaceMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMarketplaceMetrics(reg)

	m.AddSwept("reservations", 3)
	m.AddSwept("reservations", 0)
	m.IncPayout(OutcomeSuccess)
	m.IncPayout(OutcomeFailure)
	m.IncPayout(OutcomeFailure)
	m.IncRefund(OutcomeSuccess)
	m.IncWebhook("checkout.session.completed", OutcomeDuplicate)

	if got := testutil.ToFloat64(m.swept.WithLabelValues("reservations")); got != 3 {
		t.Fatalf("expected 3 swept, got %f", got)
	}
	if got := testutil.ToFloat64(m.payouts.WithLabelValues(OutcomeFailure)); got != 2 {
		t.Fatalf("expected 2 failed payouts, got %f", got)
	}
	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("checkout.session.completed", OutcomeDuplicate)); got != 1 {
		t.Fatalf("expected 1 duplicate webhook, got %f", got)
	}
}

func TestNilMarketplaceMetricsIsNoop(t *testing.T) {
	var m *MarketplaceMetrics
	m.AddSwept("pickup-codes", 1)
	m.IncPayout(OutcomeSuccess)
	m.IncRefund(OutcomeFailure)
	m.IncWebhook("x", OutcomeIgnored)

	NewMarketplaceMetrics(nil).IncPayout(OutcomeSuccess)
}
