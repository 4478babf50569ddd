// Package metrics exposes custody counters and the treasury balance gauge to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry        *prometheus.Registry
	withdrawals     *prometheus.CounterVec
	deposits        *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	treasuryBalance prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bynomo_withdrawals_total",
			Help: "Withdrawal requests by outcome.",
		}, []string{"outcome"}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bynomo_deposits_total",
			Help: "Deposit requests by outcome.",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bynomo_reconciliation_events_total",
			Help: "Chain/ledger divergences journaled for manual reconciliation.",
		}, []string{"kind"}),
		treasuryBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bynomo_treasury_balance_bnb",
			Help: "Last observed treasury balance in native coin.",
		}),
	}
	m.registry.MustRegister(
		m.withdrawals,
		m.deposits,
		m.reconciliations,
		m.treasuryBalance,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveWithdrawal counts a finished withdrawal request.
func (m *Metrics) ObserveWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(outcome).Inc()
}

// ObserveDeposit counts a finished deposit request.
func (m *Metrics) ObserveDeposit(outcome string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(outcome).Inc()
}

// ObserveReconciliation counts a journaled divergence.
func (m *Metrics) ObserveReconciliation(kind string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(kind).Inc()
}

// SetTreasuryBalance records the latest treasury balance read.
func (m *Metrics) SetTreasuryBalance(balance decimal.Decimal) {
	if m == nil {
		return
	}
	m.treasuryBalance.Set(balance.InexactFloat64())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
