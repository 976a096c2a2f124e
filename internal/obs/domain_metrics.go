package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTotal counts checkout-session creation attempts by result.
	CheckoutTotal *prometheus.CounterVec
	// IPNTotal counts inbound provider notifications by outcome.
	IPNTotal *prometheus.CounterVec
	// ReconcileOutcomeTotal counts reconciliation outcomes (applied,
	// mismatch, already_paid, order_missing, unknown_status).
	ReconcileOutcomeTotal *prometheus.CounterVec
	// ProviderCallDuration records latency of outbound AdjeminPay calls.
	ProviderCallDuration *prometheus.HistogramVec
	// TokenRefreshTotal counts bearer-token exchanges by result.
	TokenRefreshTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout session creation attempts by result.",
		}, []string{"result"})
		IPNTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipn_total",
			Help:      "Count of inbound payment notifications by outcome.",
		}, []string{"result"})
		ReconcileOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcome_total",
			Help:      "Count of reconciliation outcomes by kind and verified status.",
		}, []string{"outcome", "status"})
		ProviderCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_ms",
			Help:      "Latency of outbound provider API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"call", "result"})
		TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Count of bearer token exchanges by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, IPNTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				IPNTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileOutcomeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileOutcomeTotal = v
			}
		})
		mustRegisterCollector(reg, ProviderCallDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ProviderCallDuration = v
			}
		})
		mustRegisterCollector(reg, TokenRefreshTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TokenRefreshTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
